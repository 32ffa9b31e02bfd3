// Package chain implements the Payment Validator's chain backend (spec
// §4.3.2): verification of a settled transfer directly against an EVM node,
// with no facilitator in the loop. It also backs routes running in the
// legacy ModeTransactionHash mode, where X-PAYMENT carries a bare
// transaction hash instead of a signed authorization.
//
// Unlike the relayer-style facilitator pattern elsewhere in this module,
// the chain backend never submits a transaction and never holds a private
// key: it only inspects a transaction that has already been mined.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/x402gate/x402"
	"github.com/x402gate/x402/validator"
)

var x402TxHashHex = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)

// transferEventSignature is the Keccak-256 topic for the ERC-20
// Transfer(address,address,uint256) event, shared by every EIP-3009 asset
// in the Network Table.
var transferEventSignature = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Client is the subset of ethclient.Client the backend depends on, so tests
// can substitute a stub without dialing a real node.
type Client interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Dial opens a Client against an EVM JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (Client, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrNetworkError, err)
	}
	return c, nil
}

// Backend is the chain validator backend. One Backend serves every network
// it has been given a Client for; MinConfirmations is the number of
// confirmations required before a transaction is accepted, counting the
// transaction's own block as the first (1 accepts it as soon as it is mined).
type Backend struct {
	Clients          map[string]Client
	MinConfirmations uint64
}

// NewBackend constructs a Backend with the given per-network clients.
func NewBackend(clients map[string]Client) *Backend {
	return &Backend{Clients: clients, MinConfirmations: 1}
}

// Name implements validator.Backend.
func (b *Backend) Name() x402.ValidatorBackendName { return x402.BackendChain }

// Validate implements validator.Backend. It requires input.TxHash: either
// the bare hash a ModeTransactionHash route received directly as
// X-PAYMENT, or a hash a facilitator backend already settled and the
// deployer wants independently re-confirmed on-chain (spec §4.3.2). A
// cascade step with no hash available (ModeSignedAuthorization with no
// prior facilitator success) cannot be satisfied by this backend; it
// reports chain-unavailable so the cascade continues to the next backend
// rather than treating "nothing to check yet" as a hard rejection.
func (b *Backend) Validate(ctx context.Context, method x402.PaymentMethod, input validator.Input) (*x402.PaymentReceipt, error) {
	if input.TxHash == "" {
		return nil, x402.NewPaymentError(x402.ErrCodeChainUnavailable,
			"no transaction hash available for chain verification", nil)
	}
	return b.VerifyReceipt(ctx, method.Network, input.TxHash, method)
}

// VerifyReceipt checks an already-submitted transaction, identified by
// txHash on network, against method (spec §4.3.2): the receipt must exist
// and have succeeded, carry MinConfirmations, and contain a Transfer log
// from method.Asset to method.Recipient worth at least method.MinimumAmount.
// Validate calls it for both ModeTransactionHash and ModeSignedAuthorization
// routes.
func (b *Backend) VerifyReceipt(ctx context.Context, network, txHash string, method x402.PaymentMethod) (*x402.PaymentReceipt, error) {
	client, ok := b.Clients[network]
	if !ok {
		return nil, x402.NewPaymentError(x402.ErrCodeChainUnavailable,
			fmt.Sprintf("no chain client configured for network %q", network), x402.ErrNetworkError)
	}

	hash, err := parseTxHash(txHash)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidFormat, "malformed transaction hash", err)
	}

	receipt, err := client.TransactionReceipt(ctx, hash)
	if err != nil {
		if err == ethereum.NotFound {
			return nil, x402.NewPaymentError(x402.ErrCodeUnknownTransaction,
				fmt.Sprintf("transaction %s not found on %s", txHash, network), err)
		}
		return nil, x402.NewPaymentError(x402.ErrCodeChainUnavailable, "chain RPC call failed", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, x402.NewPaymentError(x402.ErrCodeUnknownTransaction,
			fmt.Sprintf("transaction %s reverted", txHash), nil)
	}

	if b.MinConfirmations > 0 {
		head, err := client.BlockNumber(ctx)
		if err != nil {
			return nil, x402.NewPaymentError(x402.ErrCodeChainUnavailable, "failed to read chain head", err)
		}
		if head < receipt.BlockNumber.Uint64()+b.MinConfirmations-1 {
			return nil, x402.NewPaymentError(x402.ErrCodeUnknownTransaction,
				fmt.Sprintf("transaction %s has fewer than %d confirmations", txHash, b.MinConfirmations), nil)
		}
	}

	payer, value, err := findTransfer(receipt, method.Asset, method.Recipient)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeAmountMismatch, err.Error(), nil)
	}

	minAmount, ok := new(big.Int).SetString(method.MinimumAmount, 10)
	if !ok {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "invalid configured minimumAmount", nil)
	}
	if value.Cmp(minAmount) < 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeAmountMismatch,
			fmt.Sprintf("transferred value %s below required minimum %s", value, method.MinimumAmount), nil)
	}

	return &x402.PaymentReceipt{
		TransactionHash: txHash,
		Network:         network,
		Payer:           payer,
		BlockNumber:     receipt.BlockNumber.Uint64(),
		Status:          "settled",
	}, nil
}

// findTransfer scans a receipt's logs for a Transfer event emitted by asset
// whose recipient topic matches want, returning the sender and value. The
// chain backend accepts the first matching log; a transaction batching
// several transfers to the same recipient is not expected for EIP-3009
// payments and is out of scope.
func findTransfer(receipt *types.Receipt, asset, want string) (payer string, value *big.Int, err error) {
	assetAddr := common.HexToAddress(asset)
	wantAddr := common.HexToAddress(want)

	for _, log := range receipt.Logs {
		if log.Address != assetAddr {
			continue
		}
		if len(log.Topics) != 3 || log.Topics[0] != transferEventSignature {
			continue
		}
		to := common.BytesToAddress(log.Topics[2].Bytes())
		if to != wantAddr {
			continue
		}
		from := common.BytesToAddress(log.Topics[1].Bytes())
		amount := new(big.Int).SetBytes(log.Data)
		return from.Hex(), amount, nil
	}
	return "", nil, fmt.Errorf("no Transfer log from asset %s to %s found in receipt", asset, want)
}

func parseTxHash(s string) (common.Hash, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return common.Hash{}, fmt.Errorf("transaction hash must be 32 bytes")
	}
	if !x402TxHashHex.MatchString(s) {
		return common.Hash{}, fmt.Errorf("transaction hash must be hex")
	}
	return common.HexToHash(s), nil
}
