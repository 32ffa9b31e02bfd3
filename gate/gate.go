// Package gate implements the Payment Gate (spec §4.1): the per-resource
// middleware that challenges unpaid requests with a 402 and arbitrates paid
// ones through the Payment Validator.
//
// Grounded on the teacher's http/middleware.go NewX402Middleware — the
// settlementInterceptor response-wrapping idiom and per-request slog
// correlation logging are kept; the settlement-before-resource-invocation
// ordering is new (DESIGN.md's Open Question decisions), since the
// protocol's state machine requires the receipt before the resource runs,
// unlike the teacher's defer-until-committed timing.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/x402gate/x402"
	"github.com/x402gate/x402/encoding"
	"github.com/x402gate/x402/replaystore"
	"github.com/x402gate/x402/validation"
	"github.com/x402gate/x402/validator"
)

// ReceiptKey is the well-known response-body key a settled PaymentReceipt
// is merged under (spec §6). "payment" is the default; some facilitator
// ecosystems expect "_transaction" instead — configurable per Gate.
type ReceiptKey string

const (
	ReceiptKeyPayment     ReceiptKey = "payment"
	ReceiptKeyTransaction ReceiptKey = "_transaction"
)

// Gate is the Payment Gate for a single protected route: one configured
// PaymentMethod, one validator cascade, one replay store.
type Gate struct {
	Method     x402.PaymentMethod
	Config     x402.GateConfig
	Validator  *validator.Cascade
	Store      replaystore.Store
	Logger     *slog.Logger
	ReceiptKey ReceiptKey

	// Now is injectable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

// New constructs a Gate. method must already be Validate()-able; cfg is
// validated here (and defaulted, per GateConfig.Validate's side effects).
func New(method x402.PaymentMethod, cfg x402.GateConfig, cascade *validator.Cascade, store replaystore.Store) (*Gate, error) {
	if err := method.Validate(); err != nil {
		return nil, fmt.Errorf("invalid payment method: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gate config: %w", err)
	}
	return &Gate{
		Method:     method,
		Config:     cfg,
		Validator:  cascade,
		Store:      store,
		Logger:     slog.Default(),
		ReceiptKey: ReceiptKeyPayment,
		Now:        time.Now,
	}, nil
}

// Middleware wraps next with payment gating, implementing the full request
// handling algorithm of spec §4.1.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.serve(w, r, next)
	})
}

func (g *Gate) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Gate) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	correlationID := uuid.NewString()
	logger := g.logger().With("correlation_id", correlationID, "path", r.URL.Path)

	// Step 1: no X-PAYMENT -> 402 challenge, no side effects.
	header := r.Header.Get("X-PAYMENT")
	if header == "" {
		logger.Info("no payment header, emitting challenge")
		g.writeChallenge(w)
		return
	}

	if g.Config.Mode == x402.ModeTransactionHash {
		g.serveLegacy(w, r, next, header, correlationID, logger)
		return
	}

	// Step 2: decode (try base64(JSON), fall back to raw JSON).
	signed, err := encoding.DecodeSignedAuthorization(header)
	if err != nil {
		logger.Warn("malformed x-payment header", "error", err)
		g.writeError(w, x402.NewPaymentError(x402.ErrCodeInvalidFormat, "malformed payment header", err))
		return
	}

	// Step 3: structural validation.
	if err := validation.ValidateStructure(signed); err != nil {
		logger.Warn("structurally invalid authorization", "error", err)
		g.writeError(w, x402.NewPaymentError(x402.ErrCodeInvalidFormat, "invalid payment structure", err))
		return
	}

	// Step 4: semantic validation.
	if err := validation.ValidateSemantics(signed, g.Method, g.now()); err != nil {
		if err == validation.ErrExpired {
			logger.Warn("authorization expired")
			g.writeError(w, x402.NewPaymentError(x402.ErrCodeExpired, "authorization is no longer valid", err))
			return
		}
		logger.Warn("semantically invalid authorization", "error", err)
		g.writeError(w, x402.NewPaymentError(x402.ErrCodeInvalidAuthorization, "authorization does not satisfy payment method", err))
		return
	}

	// Step 5: replay lock.
	key := replaystore.Key{
		Network: g.Method.Network,
		Asset:   g.Method.Asset,
		Nonce:   signed.Payload.Authorization.Nonce,
	}
	if !g.Store.TryInsert(key) {
		logger.Warn("replayed nonce rejected")
		g.writeError(w, x402.NewPaymentError(x402.ErrCodeReplay, "payment nonce already consumed", nil))
		return
	}

	// Step 6: delegate to the validator cascade. Any failure here, or a
	// panic escaping it, rolls back the replay lock (spec §4.1 steps 7-8).
	receipt, err := g.validateWithRollback(r.Context(), key, validator.Input{Signed: &signed}, logger)
	if err != nil {
		g.writeError(w, err)
		return
	}

	// Step 7: invoke the resource, merging the receipt into its response.
	logger.Info("payment settled, invoking resource", "tx_hash", receipt.TransactionHash)
	rec := newResponseRecorder(w)
	next.ServeHTTP(rec, r)
	rec.flush(g.ReceiptKey, receipt)
}

// validateWithRollback runs the validator cascade, converting a panic into
// an internal error and rolling back key on any non-success outcome.
func (g *Gate) validateWithRollback(ctx context.Context, key replaystore.Key, input validator.Input, logger *slog.Logger) (receipt *x402.PaymentReceipt, err error) {
	defer func() {
		if p := recover(); p != nil {
			g.Store.Remove(key)
			logger.Error("validator cascade panicked", "panic", p)
			err = x402.NewPaymentError(x402.ErrCodeInternal, "internal error during payment validation", nil)
		}
	}()

	receipt, err = g.Validator.Validate(ctx, g.Method, input)
	if err != nil {
		g.Store.Remove(key)
		logger.Warn("payment validation failed, rolling back replay lock", "error", err)
		return nil, err
	}
	return receipt, nil
}

// serveLegacy handles ModeTransactionHash routes: X-PAYMENT carries a bare
// transaction hash rather than a signed authorization, so structural and
// semantic validation (which assume a SignedAuthorization) are skipped; the
// chain backend performs the only check this mode has.
func (g *Gate) serveLegacy(w http.ResponseWriter, r *http.Request, next http.Handler, header string, correlationID string, logger *slog.Logger) {
	txHash, err := decodeLegacyTxHash(header)
	if err != nil {
		logger.Warn("malformed legacy x-payment header", "error", err)
		g.writeError(w, x402.NewPaymentError(x402.ErrCodeInvalidFormat, "malformed transaction hash header", err))
		return
	}

	key := replaystore.Key{Network: g.Method.Network, Asset: g.Method.Asset, Nonce: txHash}
	if !g.Store.TryInsert(key) {
		logger.Warn("replayed transaction hash rejected")
		g.writeError(w, x402.NewPaymentError(x402.ErrCodeReplay, "transaction hash already consumed", nil))
		return
	}

	receipt, err := g.validateWithRollback(r.Context(), key, validator.Input{TxHash: txHash}, logger)
	if err != nil {
		g.writeError(w, err)
		return
	}

	logger.Info("payment settled, invoking resource", "tx_hash", receipt.TransactionHash)
	rec := newResponseRecorder(w)
	next.ServeHTTP(rec, r)
	rec.flush(g.ReceiptKey, receipt)
}

// writeChallenge emits the 402 response body of spec §4.1 step 1.
func (g *Gate) writeChallenge(w http.ResponseWriter) {
	challenge := x402.Challenge{X402Version: x402.ProtocolVersion, Methods: []x402.PaymentMethod{g.Method}}
	body, err := encoding.EncodeChallenge(challenge)
	if err != nil {
		g.writeError(w, x402.NewPaymentError(x402.ErrCodeInternal, "failed to encode payment challenge", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	w.Write(body)
}

// errorBody is the response shape spec §7 requires for every non-success
// response: {error, message}.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError translates err into the client-visible error taxonomy and the
// single HTTP status mapping point (ErrCode.HTTPStatus). No internal error
// contents (stack traces, wrapped causes) are ever included in the body.
func (g *Gate) writeError(w http.ResponseWriter, err error) {
	pe, ok := x402.AsPaymentError(err)
	if !ok {
		pe = x402.NewPaymentError(x402.ErrCodeInternal, "internal error", err)
	}
	code := pe.Code
	if code == x402.ErrCodeFacilitatorMalformed {
		code = x402.ErrCodeFacilitatorUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	json.NewEncoder(w).Encode(errorBody{Error: string(code), Message: pe.Message})
}
