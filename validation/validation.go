// Package validation implements the Payment Gate's semantic-validation
// stage (spec §4.1 step 4): checking a decoded SignedAuthorization against
// the PaymentMethod a route is configured to require.
package validation

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/x402gate/x402"
)

// ErrExpired is returned by ValidateSemantics when now >= validBefore. It is
// reported as its own error class (spec §7's "expired"), distinct from the
// rest of semantic validation's invalid-authorization class.
var ErrExpired = errors.New("authorization expired")

// ValidateAmount validates that amount is a positive integer fitting
// uint256.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}
	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("invalid amount format: %s", amount)
	}
	if amt.Sign() <= 0 {
		return fmt.Errorf("amount must be greater than 0, got: %s", amount)
	}
	return nil
}

// ValidateAddress validates an EVM address on a known network.
func ValidateAddress(address string, network string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if err := x402.ValidateNetwork(network); err != nil {
		return fmt.Errorf("cannot validate address: %w", err)
	}
	return x402.ValidateEVMAddress(address)
}

// ValidateMethod validates a PaymentMethod's structural and network
// correctness.
func ValidateMethod(method x402.PaymentMethod) error {
	if err := ValidateAmount(method.MaximumAmount); err != nil {
		return fmt.Errorf("invalid method: %w", err)
	}
	if method.Network == "" {
		return fmt.Errorf("invalid method: network cannot be empty")
	}
	if err := x402.ValidateNetwork(method.Network); err != nil {
		return fmt.Errorf("invalid method: %w", err)
	}
	if err := ValidateAddress(method.Recipient, method.Network); err != nil {
		return fmt.Errorf("invalid method: recipient %w", err)
	}
	if method.Asset == "" {
		return fmt.Errorf("invalid method: asset address cannot be empty")
	}
	if err := ValidateAddress(method.Asset, method.Network); err != nil {
		return fmt.Errorf("invalid method: asset %w", err)
	}
	switch method.Scheme {
	case "":
		return fmt.Errorf("invalid method: scheme cannot be empty")
	}
	if method.TimeoutMillis < 0 {
		return fmt.Errorf("invalid method: timeout cannot be negative: %d", method.TimeoutMillis)
	}
	if method.Extra != nil {
		if name, ok := method.Extra["name"].(string); ok && name == "" {
			return fmt.Errorf("invalid method: EIP-3009 name cannot be empty")
		}
		if version, ok := method.Extra["version"].(string); ok && version == "" {
			return fmt.Errorf("invalid method: EIP-3009 version cannot be empty")
		}
	}
	return nil
}

// ValidateStructure checks the SignedAuthorization envelope and payload
// shape (spec §4.1 step 3): version, non-empty scheme/network, signature
// length, all six authorization fields present.
func ValidateStructure(signed x402.SignedAuthorization) error {
	if signed.X402Version != x402.ProtocolVersion {
		return fmt.Errorf("%w: got version %d", x402.ErrUnsupportedVersion, signed.X402Version)
	}
	if signed.Scheme == "" || signed.Network == "" {
		return fmt.Errorf("%w: scheme and network are required", x402.ErrMalformedHeader)
	}
	if err := signed.Payload.Validate(); err != nil {
		return fmt.Errorf("%w: %v", x402.ErrMalformedHeader, err)
	}
	return nil
}

// ValidateSemantics checks a SignedAuthorization against the PaymentMethod
// it is supposed to satisfy (spec §4.1 step 4): recipient match, network
// match, scheme match, amount within [min, max], and the validity window
// relative to now.
func ValidateSemantics(signed x402.SignedAuthorization, method x402.PaymentMethod, now time.Time) error {
	auth := signed.Payload.Authorization

	if !strings.EqualFold(auth.To, method.Recipient) {
		return fmt.Errorf("%w: authorization.to does not match configured recipient", x402.ErrInvalidAuthorization)
	}
	if signed.Network != method.Network {
		return fmt.Errorf("%w: network %q does not match configured network %q", x402.ErrInvalidAuthorization, signed.Network, method.Network)
	}
	if signed.Scheme != method.Scheme {
		return fmt.Errorf("%w: scheme %q does not match configured scheme %q", x402.ErrInvalidAuthorization, signed.Scheme, method.Scheme)
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return fmt.Errorf("%w: invalid authorization value %q", x402.ErrInvalidAuthorization, auth.Value)
	}
	minAmount, ok := new(big.Int).SetString(method.MinimumAmount, 10)
	if !ok {
		return fmt.Errorf("%w: invalid configured minimumAmount", x402.ErrInvalidAuthorization)
	}
	maxAmount, ok := new(big.Int).SetString(method.MaximumAmount, 10)
	if !ok {
		return fmt.Errorf("%w: invalid configured maximumAmount", x402.ErrInvalidAuthorization)
	}
	if value.Cmp(minAmount) < 0 || value.Cmp(maxAmount) > 0 {
		return fmt.Errorf("%w: value %s out of bounds [%s, %s]", x402.ErrInvalidAuthorization, auth.Value, method.MinimumAmount, method.MaximumAmount)
	}

	validAfter, err := strconv.ParseInt(auth.ValidAfter, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid validAfter", x402.ErrInvalidAuthorization)
	}
	validBefore, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid validBefore", x402.ErrInvalidAuthorization)
	}
	nowUnix := now.Unix()
	if nowUnix < validAfter {
		return fmt.Errorf("%w: not yet valid", x402.ErrInvalidAuthorization)
	}
	if nowUnix >= validBefore {
		return ErrExpired
	}

	return nil
}
