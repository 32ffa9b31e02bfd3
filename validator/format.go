package validator

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/x402gate/x402"
)

// formatPattern is the development-only acceptance check (spec §4.3.3):
// any 0x-prefixed hex string at least 10 characters long, prefix included.
var formatPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{8,}$`)

// FormatBackend is the development-only "format" validator backend: it
// performs no real verification, synthesizing a receipt from whatever
// signature or hash-shaped value it is given. It is UNSAFE and MUST never
// be reachable in a production ValidatorOrder (spec §4.3.3); callers are
// responsible for gating its inclusion to development builds, the same
// way GateConfig.Validate does not second-guess an explicit opt-in.
type FormatBackend struct {
	Logger *slog.Logger
}

// NewFormatBackend constructs a FormatBackend, defaulting to slog.Default().
func NewFormatBackend() *FormatBackend {
	return &FormatBackend{Logger: slog.Default()}
}

// Name implements Backend.
func (f *FormatBackend) Name() x402.ValidatorBackendName { return x402.BackendFormat }

// Validate implements Backend. It never fails as "unavailable" — a
// rejected format check is terminal, since this backend has no further
// fallback of its own.
func (f *FormatBackend) Validate(_ context.Context, method x402.PaymentMethod, input Input) (*x402.PaymentReceipt, error) {
	candidate := input.TxHash
	if candidate == "" && input.Signed != nil {
		candidate = input.Signed.Payload.Signature
	}

	if !formatPattern.MatchString(candidate) {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidFormat,
			"format backend: no hex signature or hash found to synthesize a receipt from", nil)
	}

	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("format-only validator backend accepted payment without verification",
		"network", method.Network, "asset", method.Asset)

	return &x402.PaymentReceipt{
		TransactionHash: candidate,
		Network:         method.Network,
		Status:          "format-only",
	}, nil
}
