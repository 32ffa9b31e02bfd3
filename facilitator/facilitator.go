// Package facilitator implements the Payment Validator's facilitator
// backend (spec §4.3.1): POSTing a SignedAuthorization to a trusted
// off-chain service that verifies the signature/amount, submits the
// on-chain transfer, and reports back a transaction hash.
//
// Grounded on the teacher's http/facilitator.go, stripped of its debug
// fmt.Printf calls (Design Note §9 names exactly this class of hazard) and
// generalized to the canonical x402 types. The fallback-URL and /supported
// enrichment behavior follow SPEC_FULL.md §12.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/x402gate/x402"
	"github.com/x402gate/x402/retry"
	"github.com/x402gate/x402/validator"
)

// Backend is the facilitator validator backend. BaseURL is required;
// FallbackURL is optional and is tried only after BaseURL fails with a
// retryable (unavailable) error, per SPEC_FULL.md §12.
type Backend struct {
	BaseURL     string
	FallbackURL string
	Client      *http.Client
	Timeouts    x402.TimeoutConfig

	// SupportsSplitEndpoints indicates the facilitator exposes separate
	// /verify and /settle suffixes (spec §6). When false, Validate POSTs to
	// BaseURL directly and expects one response performing both.
	SupportsSplitEndpoints bool
}

// NewBackend constructs a Backend with sane defaults: a combined
// verify+settle call against baseURL, default timeouts, and a client with
// no fallback.
func NewBackend(baseURL string) *Backend {
	return &Backend{
		BaseURL:  baseURL,
		Client:   &http.Client{},
		Timeouts: x402.DefaultTimeouts,
	}
}

// Name implements validator.Backend.
func (b *Backend) Name() x402.ValidatorBackendName { return x402.BackendFacilitator }

// verifyResponse is the facilitator's /verify reply.
type verifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}

// settleResponse mirrors the facilitator's JSON reply, accepting every
// transaction-hash field alias spec §4.3.1 requires.
type settleResponse struct {
	TransactionHash string `json:"transactionHash"`
	TxHash          string `json:"txHash"`
	Tx              string `json:"tx"`
	Payer           string `json:"payer"`
	BlockNumber     uint64 `json:"blockNumber"`
}

func (r settleResponse) hash() string {
	switch {
	case r.TransactionHash != "":
		return r.TransactionHash
	case r.TxHash != "":
		return r.TxHash
	default:
		return r.Tx
	}
}

// Validate implements validator.Backend: POST the SignedAuthorization, and
// on success emit a PaymentReceipt. Errors are classified per spec
// §4.3.1's failure taxonomy: rejected (terminal, HTTP 4xx), unavailable
// (retryable, HTTP 5xx/timeout/malformed), malformed (2xx but no hash).
// input.Signed MUST be set; the facilitator backend has no use for a bare
// transaction hash.
func (b *Backend) Validate(ctx context.Context, method x402.PaymentMethod, input validator.Input) (*x402.PaymentReceipt, error) {
	if input.Signed == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidFormat, "facilitator backend requires a signed authorization", nil)
	}
	signed := *input.Signed

	receipt, err := b.tryURL(ctx, b.BaseURL, method, signed)
	if err == nil {
		return receipt, nil
	}
	if !isUnavailable(err) || b.FallbackURL == "" {
		return nil, err
	}
	return b.tryURL(ctx, b.FallbackURL, method, signed)
}

func isUnavailable(err error) bool {
	pe, ok := x402.AsPaymentError(err)
	return ok && pe.Code == x402.ErrCodeFacilitatorUnavailable
}

// tryURL runs one verify(+settle) attempt against baseURL, retrying a
// facilitator-unavailable failure with exponential backoff before giving up
// on this URL (a single transient 5xx/timeout needn't burn the fallback).
func (b *Backend) tryURL(ctx context.Context, baseURL string, method x402.PaymentMethod, signed x402.SignedAuthorization) (*x402.PaymentReceipt, error) {
	return retry.WithRetry(ctx, retry.DefaultConfig, isUnavailable, func() (*x402.PaymentReceipt, error) {
		if b.SupportsSplitEndpoints {
			if err := b.verify(ctx, baseURL, signed); err != nil {
				return nil, err
			}
			return b.settle(ctx, baseURL, signed)
		}
		return b.settle(ctx, baseURL, signed)
	})
}

func (b *Backend) verify(ctx context.Context, baseURL string, signed x402.SignedAuthorization) error {
	var result verifyResponse
	if err := b.post(ctx, baseURL+"/verify", b.Timeouts.VerifyTimeout, signed, &result); err != nil {
		return err
	}
	if !result.Valid {
		reason := result.Reason
		if reason == "" {
			reason = "facilitator rejected payment"
		}
		return x402.NewPaymentError(x402.ErrCodeRejected, reason, nil)
	}
	return nil
}

func (b *Backend) settle(ctx context.Context, baseURL string, signed x402.SignedAuthorization) (*x402.PaymentReceipt, error) {
	url := baseURL
	if b.SupportsSplitEndpoints {
		url = baseURL + "/settle"
	}

	var result settleResponse
	if err := b.post(ctx, url, b.Timeouts.SettleTimeout, signed, &result); err != nil {
		return nil, err
	}

	hash := result.hash()
	if hash == "" {
		return nil, x402.NewPaymentError(x402.ErrCodeFacilitatorMalformed,
			"facilitator response did not include a transaction hash", nil)
	}

	return &x402.PaymentReceipt{
		TransactionHash: hash,
		Network:         signed.Network,
		Payer:           result.Payer,
		BlockNumber:     result.BlockNumber,
		Status:          "confirmed",
	}, nil
}

func (b *Backend) post(ctx context.Context, url string, timeout time.Duration, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return x402.NewPaymentError(x402.ErrCodeFacilitatorUnavailable, "failed to marshal facilitator request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return x402.NewPaymentError(x402.ErrCodeFacilitatorUnavailable, "failed to build facilitator request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return x402.NewPaymentError(x402.ErrCodeFacilitatorUnavailable, "facilitator request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return x402.NewPaymentError(x402.ErrCodeFacilitatorUnavailable, "failed to read facilitator response", err)
	}

	if resp.StatusCode >= 500 {
		return x402.NewPaymentError(x402.ErrCodeFacilitatorUnavailable,
			fmt.Sprintf("facilitator returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return x402.NewPaymentError(x402.ErrCodeRejected,
			fmt.Sprintf("facilitator rejected payment: %s", string(respBody)), nil)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return x402.NewPaymentError(x402.ErrCodeFacilitatorUnavailable, "facilitator returned malformed JSON", err)
	}
	return nil
}

// supportedResponse is the facilitator's /supported reply, used to enrich
// a PaymentMethod's EIP-712 domain hints when the deployer didn't set them
// explicitly (SPEC_FULL.md §12).
type supportedResponse struct {
	Kinds []struct {
		Scheme  string         `json:"scheme"`
		Network string         `json:"network"`
		Extra   map[string]any `json:"extra"`
	} `json:"kinds"`
}

// EnrichMethod queries BaseURL's /supported endpoint and merges in any
// extra EIP-712 domain hints (name/version) for a matching scheme/network
// that method doesn't already carry. Failure to enrich is reported as an
// error; callers should treat it as a warning, not a fatal condition, per
// the teacher's NewX402Middleware.
func (b *Backend) EnrichMethod(ctx context.Context, method x402.PaymentMethod) (x402.PaymentMethod, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Timeouts.VerifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+"/supported", nil)
	if err != nil {
		return method, err
	}
	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return method, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return method, fmt.Errorf("facilitator /supported returned %d", resp.StatusCode)
	}

	var supported supportedResponse
	if err := json.NewDecoder(resp.Body).Decode(&supported); err != nil {
		return method, fmt.Errorf("decode /supported response: %w", err)
	}

	for _, kind := range supported.Kinds {
		if kind.Scheme != method.Scheme || kind.Network != method.Network {
			continue
		}
		if len(kind.Extra) == 0 {
			continue
		}
		merged := make(map[string]any, len(method.Extra)+len(kind.Extra))
		for k, v := range kind.Extra {
			merged[k] = v
		}
		for k, v := range method.Extra {
			merged[k] = v
		}
		method.Extra = merged
		break
	}
	return method, nil
}
