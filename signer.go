package x402

import "math/big"

// TokenConfig describes one token a Signer is willing to pay with.
type TokenConfig struct {
	Address  string
	Symbol   string
	Decimals uint8
	Priority int
}

// Signer is the Authorization Signer contract (§4.2): given a PaymentMethod
// it holds a wallet capable of satisfying, it produces a SignedAuthorization.
type Signer interface {
	// Network returns the network identifier this signer operates on.
	Network() string

	// Scheme returns the payment scheme identifier this signer supports
	// (e.g. "exact", "eip3009").
	Scheme() string

	// CanSign reports whether this signer can satisfy the given method:
	// matching network/scheme and a configured token for method.Asset. The
	// per-call limit is not part of this check; it is exposed through
	// GetMaxAmount.
	CanSign(method *PaymentMethod) bool

	// Sign produces a SignedAuthorization for method, or a non-nil error
	// when it cannot (for example ErrAmountExceeded when the method's
	// maximum amount is over the signer's per-call limit).
	Sign(method *PaymentMethod) (*SignedAuthorization, error)

	// GetPriority returns the signer's priority; lower is preferred.
	GetPriority() int

	// GetTokens returns the tokens this signer can pay with.
	GetTokens() []TokenConfig

	// GetMaxAmount returns the per-call spending limit, or nil if unlimited.
	GetMaxAmount() *big.Int
}
