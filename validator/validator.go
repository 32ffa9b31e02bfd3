// Package validator implements the Payment Validator's ordered backend
// cascade (spec §4.3): facilitator → chain → format, where only the two
// "unavailable" failure classes are continue-signals and every other
// failure is terminal. Design Note §9 calls this out explicitly: the
// cascade is a plain ordered list of a common interface, never a
// try/catch chain where an unrelated error silently falls through to the
// unsafe format backend.
package validator

import (
	"context"
	"fmt"

	"github.com/x402gate/x402"
)

// Input carries whichever shape a backend needs: a signed authorization
// for the facilitator backend, a bare transaction hash for the chain
// backend operating in legacy mode (spec §4.3.2's "sole mode" case) or
// independently re-verifying a hash the facilitator already returned.
type Input struct {
	Signed *x402.SignedAuthorization
	TxHash string
}

// Backend is the common interface every validator backend implements
// (Design Note §9).
type Backend interface {
	Name() x402.ValidatorBackendName
	Validate(ctx context.Context, method x402.PaymentMethod, input Input) (*x402.PaymentReceipt, error)
}

// continuable reports whether err signals a transient, retry-next-backend
// failure (facilitator-unavailable, chain-unavailable) as opposed to a
// terminal rejection.
func continuable(err error) bool {
	pe, ok := x402.AsPaymentError(err)
	if !ok {
		return false
	}
	switch pe.Code {
	case x402.ErrCodeFacilitatorUnavailable, x402.ErrCodeChainUnavailable:
		return true
	default:
		return false
	}
}

// Cascade runs an ordered list of backends, stopping at the first success
// or the first terminal failure, and only advancing past a backend whose
// failure is one of the continuable classes.
type Cascade struct {
	Backends []Backend
}

// NewCascade builds a Cascade from backends in fallback order. The format
// backend, if present, MUST be last and is the caller's explicit
// responsibility to include only in development deployments (spec §4.3.3).
func NewCascade(backends ...Backend) *Cascade {
	return &Cascade{Backends: backends}
}

// Validate runs the cascade against input, in order.
func (c *Cascade) Validate(ctx context.Context, method x402.PaymentMethod, input Input) (*x402.PaymentReceipt, error) {
	if len(c.Backends) == 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeInternal, "no validator backends configured", nil)
	}

	var lastErr error
	for _, backend := range c.Backends {
		receipt, err := backend.Validate(ctx, method, input)
		if err == nil {
			return receipt, nil
		}
		lastErr = err
		if !continuable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("all validator backends exhausted: %w", lastErr)
}
