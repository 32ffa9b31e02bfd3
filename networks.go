package x402

import "fmt"

// NetworkConfig is the chain-specific configuration needed to build an
// EIP-712 domain and submit/verify an on-chain transfer.
type NetworkConfig struct {
	// ChainID is the EIP-155 chain id used in the EIP-712 domain separator.
	ChainID int64

	// USDCAddress is the canonical USDC contract address on this network,
	// used by the NewUSDCPaymentMethod convenience constructor.
	USDCAddress string

	// EIP3009Name and EIP3009Version are the EIP-712 domain parameters for
	// USDC's TransferWithAuthorization on this network. Per SPEC_FULL.md's
	// Open Question decision, these are per-asset and MUST be configured
	// rather than guessed; the constants here are the USDC-specific
	// defaults only.
	EIP3009Name    string
	EIP3009Version string
}

// Networks is the closed Network Table (spec §6): the chain ids the core
// must recognize. Implementations MAY extend it at runtime with
// RegisterNetwork.
var Networks = map[string]NetworkConfig{
	"ethereum": {
		ChainID:        1,
		USDCAddress:    "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	},
	"sepolia": {
		ChainID:        11155111,
		USDCAddress:    "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	},
	"base": {
		ChainID:        8453,
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	},
	"base-sepolia": {
		ChainID:        84532,
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	},
	"polygon": {
		ChainID:        137,
		USDCAddress:    "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	},
	"arbitrum": {
		ChainID:        42161,
		USDCAddress:    "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	},
	"optimism": {
		ChainID:        10,
		USDCAddress:    "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	},
}

// RegisterNetwork adds or overrides an entry in the Network Table. Intended
// for deployments that need a chain outside the closed default set (e.g. a
// private testnet).
func RegisterNetwork(name string, cfg NetworkConfig) {
	Networks[name] = cfg
}

// ResolveChainID looks up the EIP-155 chain id for a network name.
func ResolveChainID(network string) (int64, error) {
	cfg, ok := Networks[network]
	if !ok {
		return 0, NewPaymentError(ErrCodeInvalidRequirements, fmt.Sprintf("unrecognized network %q", network), ErrInvalidNetwork)
	}
	return cfg.ChainID, nil
}

// ValidateNetwork reports whether network is in the Network Table.
func ValidateNetwork(network string) error {
	if _, ok := Networks[network]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidNetwork, network)
	}
	return nil
}

// NewUSDCPaymentMethod is a convenience constructor for the common case of
// gating a route with USDC on a known network. minAmount and maxAmount are
// smallest-unit decimal strings (USDC has 6 decimals); callers needing a different token
// should construct PaymentMethod directly.
func NewUSDCPaymentMethod(network, recipient, minAmount, maxAmount string, timeoutMillis int64, description string) (PaymentMethod, error) {
	cfg, ok := Networks[network]
	if !ok {
		return PaymentMethod{}, fmt.Errorf("%w: %q", ErrInvalidNetwork, network)
	}
	method := PaymentMethod{
		Scheme:        "eip3009",
		Network:       network,
		Asset:         cfg.USDCAddress,
		Recipient:     recipient,
		MinimumAmount: minAmount,
		MaximumAmount: maxAmount,
		TimeoutMillis: timeoutMillis,
		Description:   description,
		Extra: map[string]any{
			"name":    cfg.EIP3009Name,
			"version": cfg.EIP3009Version,
		},
	}
	if err := method.Validate(); err != nil {
		return PaymentMethod{}, err
	}
	return method, nil
}
