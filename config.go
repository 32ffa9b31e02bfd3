package x402

import (
	"fmt"
	"time"
)

// TimeoutConfig bounds the external calls a validator backend or client may
// make. Every facilitator/chain RPC call MUST carry one of these deadlines
// (spec §5).
type TimeoutConfig struct {
	// VerifyTimeout bounds a facilitator /verify call and the /supported
	// lookup.
	VerifyTimeout time.Duration

	// SettleTimeout bounds a facilitator /settle call (or the combined
	// verify+settle call when the facilitator doesn't split them). MUST be
	// >= VerifyTimeout since settlement is
	// expected to take at least as long as verification.
	SettleTimeout time.Duration

	// RequestTimeout bounds the overall client-side fetch, including both
	// the initial request and the paid retry.
	RequestTimeout time.Duration
}

// DefaultTimeouts are the package defaults.
var DefaultTimeouts = TimeoutConfig{
	VerifyTimeout:  5 * time.Second,
	SettleTimeout:  60 * time.Second,
	RequestTimeout: 120 * time.Second,
}

// Validate checks that VerifyTimeout and SettleTimeout are positive and that
// SettleTimeout is not shorter than VerifyTimeout. RequestTimeout is not
// checked.
func (c TimeoutConfig) Validate() error {
	if c.VerifyTimeout <= 0 {
		return fmt.Errorf("verifyTimeout must be positive, got %v", c.VerifyTimeout)
	}
	if c.SettleTimeout <= 0 {
		return fmt.Errorf("settleTimeout must be positive, got %v", c.SettleTimeout)
	}
	if c.SettleTimeout < c.VerifyTimeout {
		return fmt.Errorf("settleTimeout (%v) must be >= verifyTimeout (%v)", c.SettleTimeout, c.VerifyTimeout)
	}
	return nil
}

// WithVerifyTimeout returns a copy of c with VerifyTimeout replaced.
func (c TimeoutConfig) WithVerifyTimeout(d time.Duration) TimeoutConfig {
	c.VerifyTimeout = d
	return c
}

// WithSettleTimeout returns a copy of c with SettleTimeout replaced.
func (c TimeoutConfig) WithSettleTimeout(d time.Duration) TimeoutConfig {
	c.SettleTimeout = d
	return c
}

// WithRequestTimeout returns a copy of c with RequestTimeout replaced.
func (c TimeoutConfig) WithRequestTimeout(d time.Duration) TimeoutConfig {
	c.RequestTimeout = d
	return c
}

// ValidatorBackendName identifies one of the three Payment Validator
// backends in the fallback cascade (§4.3).
type ValidatorBackendName string

const (
	BackendFacilitator ValidatorBackendName = "facilitator"
	BackendChain       ValidatorBackendName = "chain"
	BackendFormat      ValidatorBackendName = "format"
)

// RouteMode selects what a Payment Gate route accepts as X-PAYMENT: a fully
// signed ERC-3009 authorization, or (legacy) a bare on-chain transaction
// hash. This is a per-route deployment decision (SPEC_FULL.md §13), not a
// protocol one.
type RouteMode int

const (
	ModeSignedAuthorization RouteMode = iota
	ModeTransactionHash
)

// GateConfig configures a single protected route.
type GateConfig struct {
	Method GateMethodConfig

	// ValidatorOrder is the backend fallback order; default
	// [facilitator, chain]. "format" is never included implicitly — it MUST
	// be added explicitly and only in development deployments.
	ValidatorOrder []ValidatorBackendName

	// ReplayRetentionSeconds bounds how long a consumed nonce is remembered.
	// Default 86400 (24h), per spec §4.4/§6.
	ReplayRetentionSeconds int64

	// Mode selects signed-authorization vs bare-transaction-hash routes.
	Mode RouteMode
}

// GateMethodConfig is the subset of configuration enumerated in spec §6
// used to build the single PaymentMethod a route advertises.
type GateMethodConfig struct {
	FacilitatorURL string
	RPCURL         string
	Network        string
	Asset          string
	Recipient      string
	PaymentAmount  string
}

// DefaultValidatorOrder is facilitator then chain; format is excluded.
func DefaultValidatorOrder() []ValidatorBackendName {
	return []ValidatorBackendName{BackendFacilitator, BackendChain}
}

// DefaultReplayRetentionSeconds is 24h.
const DefaultReplayRetentionSeconds int64 = 86400

// Validate checks a GateConfig against its declared ValidatorOrder: a
// facilitator backend requires FacilitatorURL, a chain backend requires
// RPCURL, and "format" is rejected unless explicitly requested (the caller
// is responsible for gating that to development builds; Validate does not
// second-guess a deliberate choice).
func (g *GateConfig) Validate() error {
	if len(g.ValidatorOrder) == 0 {
		g.ValidatorOrder = DefaultValidatorOrder()
	}
	if g.ReplayRetentionSeconds <= 0 {
		g.ReplayRetentionSeconds = DefaultReplayRetentionSeconds
	}
	for _, backend := range g.ValidatorOrder {
		switch backend {
		case BackendFacilitator:
			if g.Method.FacilitatorURL == "" {
				return fmt.Errorf("facilitator backend enabled but facilitatorUrl is empty")
			}
		case BackendChain:
			if g.Method.RPCURL == "" {
				return fmt.Errorf("chain backend enabled but rpcUrl is empty")
			}
		case BackendFormat:
			// intentionally unchecked: a deliberate, explicit opt-in.
		default:
			return fmt.Errorf("unknown validator backend %q", backend)
		}
	}
	return nil
}
