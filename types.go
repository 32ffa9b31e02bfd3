// Package x402 provides the wire types, network table, and error taxonomy
// shared by every component of the payment gate.
package x402

import (
	"fmt"
	"regexp"
	"strconv"
)

// ProtocolVersion is the only x402Version this implementation understands.
const ProtocolVersion = 1

// PaymentMethod is one acceptable way to pay for a protected resource,
// offered inside a Challenge.
type PaymentMethod struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	Asset             string         `json:"asset"`
	Recipient         string         `json:"recipient"`
	MaximumAmount     string         `json:"maximumAmount"`
	MinimumAmount     string         `json:"minimumAmount"`
	TimeoutMillis     int64          `json:"timeout"`
	Description       string         `json:"description,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// Validate checks structural and numeric invariants of a PaymentMethod:
// maximumAmount >= minimumAmount > 0, addresses well-formed, timeout within
// [1s, 1h].
func (m *PaymentMethod) Validate() error {
	if m.Scheme == "" {
		return fmt.Errorf("scheme is required")
	}
	if m.Network == "" {
		return fmt.Errorf("network is required")
	}
	if err := ValidateEVMAddress(m.Asset); err != nil {
		return fmt.Errorf("asset: %w", err)
	}
	if err := ValidateEVMAddress(m.Recipient); err != nil {
		return fmt.Errorf("recipient: %w", err)
	}
	maxVal, err := parseUint256(m.MaximumAmount)
	if err != nil {
		return fmt.Errorf("maximumAmount: %w", err)
	}
	minVal, err := parseUint256(m.MinimumAmount)
	if err != nil {
		return fmt.Errorf("minimumAmount: %w", err)
	}
	if minVal.Sign() <= 0 {
		return fmt.Errorf("minimumAmount must be greater than zero")
	}
	if maxVal.Cmp(minVal) < 0 {
		return fmt.Errorf("maximumAmount must be >= minimumAmount")
	}
	if m.TimeoutMillis < 1000 || m.TimeoutMillis > 3600_000 {
		return fmt.Errorf("timeout must be between 1s and 1h")
	}
	return nil
}

// Challenge is the body of a 402 response: the set of payment methods the
// gate will accept for the request that triggered it.
type Challenge struct {
	X402Version int             `json:"x402Version"`
	Methods     []PaymentMethod `json:"methods"`
}

// Validate reports whether the challenge is well-formed: correct version,
// non-empty method list, each method individually valid.
func (c *Challenge) Validate() error {
	if c.X402Version != ProtocolVersion {
		return fmt.Errorf("%w: got version %d", ErrUnsupportedVersion, c.X402Version)
	}
	if len(c.Methods) == 0 {
		return fmt.Errorf("challenge has no methods")
	}
	for i := range c.Methods {
		if err := c.Methods[i].Validate(); err != nil {
			return fmt.Errorf("methods[%d]: %w", i, err)
		}
	}
	return nil
}

// Authorization is the signed body of an ERC-3009 TransferWithAuthorization.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// SignedPayload is the scheme-specific payload carried inside a
// SignedAuthorization. Signature is a 65-byte (r||s||v) ECDSA signature,
// hex-encoded with a 0x prefix.
type SignedPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// SignedAuthorization is the complete X-PAYMENT payload sent by a client.
type SignedAuthorization struct {
	X402Version int           `json:"x402Version"`
	Scheme      string        `json:"scheme"`
	Network     string        `json:"network"`
	Payload     SignedPayload `json:"payload"`
}

// PaymentReceipt records a successful settlement.
type PaymentReceipt struct {
	TransactionHash string `json:"transactionHash"`
	Network         string `json:"network"`
	Payer           string `json:"payer,omitempty"`
	BlockNumber     uint64 `json:"blockNumber,omitempty"`
	Status          string `json:"status,omitempty"`
}

// legacyTransactionPayload is the wire shape accepted when a route runs in
// ModeTransactionHash (§13 of SPEC_FULL.md): X-PAYMENT carries a bare hash
// rather than a signed authorization.
type legacyTransactionPayload struct {
	TransactionHash string `json:"transactionHash"`
}

var (
	evmAddressPattern   = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	evmSignaturePattern = regexp.MustCompile(`^0x[a-fA-F0-9]{130}$`)
	evmNoncePattern     = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	evmTxHashPattern    = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
)

// ValidateEVMAddress validates an EVM address of the form 0x + 40 hex chars.
func ValidateEVMAddress(address string) error {
	if !evmAddressPattern.MatchString(address) {
		return fmt.Errorf("invalid EVM address format (must be 0x + 40 hex characters)")
	}
	return nil
}

// Validate checks the structural shape of a SignedPayload: signature length,
// address formats, nonce format, and timestamp ordering. It does not check
// method-specific semantics (amount bounds, recipient match) — that is the
// Payment Gate's semantic-validation stage.
func (p *SignedPayload) Validate() error {
	if !evmSignaturePattern.MatchString(p.Signature) {
		return fmt.Errorf("invalid signature format (must be 0x + 130 hex characters)")
	}
	if !evmAddressPattern.MatchString(p.Authorization.From) {
		return fmt.Errorf("invalid from address")
	}
	if !evmAddressPattern.MatchString(p.Authorization.To) {
		return fmt.Errorf("invalid to address")
	}
	if _, err := parseUint256(p.Authorization.Value); err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	if !evmNoncePattern.MatchString(p.Authorization.Nonce) {
		return fmt.Errorf("invalid nonce format (must be 32 bytes)")
	}
	validAfter, err := strconv.ParseUint(p.Authorization.ValidAfter, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid validAfter timestamp: %w", err)
	}
	validBefore, err := strconv.ParseUint(p.Authorization.ValidBefore, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid validBefore timestamp: %w", err)
	}
	if validBefore <= validAfter {
		return fmt.Errorf("validBefore must be after validAfter")
	}
	return nil
}

// Validate checks the envelope: declared version, non-empty scheme/network,
// and delegates to the payload.
func (s *SignedAuthorization) Validate() error {
	if s.X402Version != ProtocolVersion {
		return fmt.Errorf("%w: got version %d", ErrUnsupportedVersion, s.X402Version)
	}
	if s.Scheme == "" || s.Network == "" {
		return fmt.Errorf("scheme and network are required")
	}
	return s.Payload.Validate()
}

