package evm

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402gate/x402"
)

// Signer implements x402.Signer for EVM-compatible chains using EIP-3009
// TransferWithAuthorization.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	network    string
	chainID    *big.Int
	tokens     []x402.TokenConfig
	priority   int
	maxAmount  *big.Int
}

// SignerOption configures a Signer.
type SignerOption func(*Signer) error

// NewSigner builds an EVM Signer from options. A private key (WithPrivateKey,
// WithKeystore, or WithMnemonic), a network, and at least one token are
// required.
func NewSigner(opts ...SignerOption) (*Signer, error) {
	s := &Signer{priority: 0}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.privateKey == nil {
		return nil, x402.ErrInvalidKey
	}
	if s.network == "" {
		return nil, x402.ErrInvalidNetwork
	}
	if len(s.tokens) == 0 {
		return nil, x402.ErrNoTokens
	}

	chainID, err := x402.ResolveChainID(s.network)
	if err != nil {
		return nil, err
	}

	s.address = crypto.PubkeyToAddress(s.privateKey.PublicKey)
	s.chainID = big.NewInt(chainID)

	return s, nil
}

// WithPrivateKey sets the private key from a hex string (with or without a
// 0x prefix).
func WithPrivateKey(hexKey string) SignerOption {
	return func(s *Signer) error {
		hexKey = strings.TrimPrefix(hexKey, "0x")
		privateKey, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return x402.ErrInvalidKey
		}
		s.privateKey = privateKey
		return nil
	}
}

// WithNetwork sets the network identifier this signer signs for.
func WithNetwork(network string) SignerOption {
	return func(s *Signer) error {
		s.network = network
		return nil
	}
}

// WithToken adds an acceptable token at default priority.
func WithToken(address, symbol string, decimals uint8) SignerOption {
	return WithTokenPriority(address, symbol, decimals, 0)
}

// WithTokenPriority adds an acceptable token at an explicit priority; lower
// is preferred when more than one of the signer's tokens matches a method.
func WithTokenPriority(address, symbol string, decimals uint8, priority int) SignerOption {
	return func(s *Signer) error {
		s.tokens = append(s.tokens, x402.TokenConfig{
			Address:  address,
			Symbol:   symbol,
			Decimals: decimals,
			Priority: priority,
		})
		return nil
	}
}

// WithPriority sets the signer's own priority among multiple signers.
func WithPriority(priority int) SignerOption {
	return func(s *Signer) error {
		s.priority = priority
		return nil
	}
}

// WithMaxAmountPerCall caps the per-call amount this signer will authorize.
func WithMaxAmountPerCall(amount string) SignerOption {
	return func(s *Signer) error {
		maxAmount, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return x402.ErrInvalidAmount
		}
		s.maxAmount = maxAmount
		return nil
	}
}

// Network implements x402.Signer.
func (s *Signer) Network() string { return s.network }

// Scheme implements x402.Signer. Every network this signer supports uses
// the eip3009 "exact" transfer scheme.
func (s *Signer) Scheme() string { return "exact" }

// CanSign implements x402.Signer.
func (s *Signer) CanSign(method *x402.PaymentMethod) bool {
	if method.Network != s.network {
		return false
	}
	if method.Scheme != "exact" && method.Scheme != "eip3009" {
		return false
	}
	for _, token := range s.tokens {
		if hexAddressesEqual(token.Address, method.Asset) {
			return true
		}
	}
	return false
}

// Sign implements x402.Signer: builds and EIP-712-signs a
// TransferWithAuthorization for method, returning a SignedAuthorization
// ready to be base64-encoded into an X-PAYMENT header.
func (s *Signer) Sign(method *x402.PaymentMethod) (*x402.SignedAuthorization, error) {
	if !s.CanSign(method) {
		return nil, x402.ErrNoValidSigner
	}

	amount, ok := new(big.Int).SetString(method.MaximumAmount, 10)
	if !ok {
		return nil, x402.ErrInvalidAmount
	}
	if s.maxAmount != nil && amount.Cmp(s.maxAmount) > 0 {
		return nil, x402.ErrAmountExceeded
	}

	name, version, err := domainFromExtra(method.Extra)
	if err != nil {
		return nil, err
	}

	tokenAddress := common.HexToAddress(method.Asset)
	auth, err := createAuthorization(s.address, common.HexToAddress(method.Recipient), amount, method.TimeoutMillis)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to build authorization", err)
	}

	signature, err := signTransferAuthorization(s.privateKey, tokenAddress, s.chainID, auth, name, version)
	if err != nil {
		return nil, err
	}

	return &x402.SignedAuthorization{
		X402Version: x402.ProtocolVersion,
		Scheme:      method.Scheme,
		Network:     s.network,
		Payload: x402.SignedPayload{
			Signature: signature,
			Authorization: x402.Authorization{
				From:        auth.From.Hex(),
				To:          auth.To.Hex(),
				Value:       auth.Value.String(),
				ValidAfter:  auth.ValidAfter.String(),
				ValidBefore: auth.ValidBefore.String(),
				Nonce:       auth.Nonce.Hex(),
			},
		},
	}, nil
}

// GetPriority implements x402.Signer.
func (s *Signer) GetPriority() int { return s.priority }

// GetTokens implements x402.Signer.
func (s *Signer) GetTokens() []x402.TokenConfig { return s.tokens }

// GetMaxAmount implements x402.Signer.
func (s *Signer) GetMaxAmount() *big.Int { return s.maxAmount }

// Address returns the signer's derived Ethereum address.
func (s *Signer) Address() common.Address { return s.address }
