// Package payclient implements the client-side HTTP Payment Driver (spec
// §4.5): an http.RoundTripper that transparently satisfies a single 402
// challenge and retries with an X-PAYMENT header.
//
// Grounded on the teacher's http/transport.go (X402Transport.RoundTrip) and
// http/client.go (the ClientOption builder pattern), generalized from the
// teacher's PaymentRequirement/PaymentPayload shapes to the canonical
// x402.PaymentMethod/SignedAuthorization contract and to the field-aliasing
// encoding.DecodeChallenge this rewrite centralizes (Design Note §9).
package payclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/x402gate/x402"
	"github.com/x402gate/x402/encoding"
)

// Settlement records the transaction hash a paid retry's response revealed.
// It is advisory state on a shared Transport: per spec §4.5's concurrency
// note, it is clobbered by the most recent call. Callers who need a
// reliable receipt must inspect the response body themselves, not this
// field.
type Settlement struct {
	TransactionHash string
	Network         string
}

// Transport is the Payment Driver: it wraps Base (defaulting to
// http.DefaultTransport) and retries exactly one 402 with a signed
// payment, never looping further (spec §4.5 step 7).
type Transport struct {
	// Base is the underlying RoundTripper. Defaults to http.DefaultTransport.
	Base http.RoundTripper

	// Signers are the wallet's available Authorization Signers.
	Signers []x402.Signer

	// Selector chooses which (method, signer) pair to use. Defaults to
	// x402.NewDefaultPaymentSelector().
	Selector x402.PaymentSelector

	// RawJSONHeader sends X-PAYMENT as raw JSON instead of the default
	// base64(JSON) encoding; spec §4.5 step 5 allows either as long as the
	// server accepts it.
	RawJSONHeader bool

	mu             sync.Mutex
	lastSettlement *Settlement
}

// NewTransport constructs a Transport with the default selector.
func NewTransport(base http.RoundTripper, signers ...x402.Signer) *Transport {
	return &Transport{
		Base:     base,
		Signers:  signers,
		Selector: x402.NewDefaultPaymentSelector(),
	}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) selector() x402.PaymentSelector {
	if t.Selector != nil {
		return t.Selector
	}
	return x402.NewDefaultPaymentSelector()
}

// LastSettlement returns the most recently observed settlement, or nil if
// no paid retry has completed yet. Advisory only (see Settlement's doc).
func (t *Transport) LastSettlement() *Settlement {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSettlement
}

func (t *Transport) recordSettlement(s *Settlement) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSettlement = s
}

// RoundTrip implements http.RoundTripper, executing spec §4.5's algorithm.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base()

	firstReq := req.Clone(req.Context())
	resp, err := base.RoundTrip(firstReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeBadChallenge, "failed to read 402 response body", err)
	}

	challenge, err := encoding.DecodeChallenge(body)
	if err != nil || len(challenge.Methods) == 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeBadChallenge, "402 response body is not a valid payment challenge", err)
	}

	eligible := resolvableMethods(challenge.Methods)
	if len(eligible) == 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeNoAcceptableMethod,
			"no challenged payment method is on a network this wallet resolves", nil)
	}

	signed, err := t.selector().SelectAndSign(eligible, t.Signers)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeNoAcceptableMethod, "no signer could satisfy any challenged payment method", err)
	}

	header, err := t.encodeHeader(*signed)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to encode X-PAYMENT header", err)
	}

	retryReq := req.Clone(req.Context())
	retryReq.Header.Set("X-PAYMENT", header)

	retryResp, err := base.RoundTrip(retryReq)
	if err != nil {
		return nil, err
	}

	if retryResp.StatusCode == http.StatusPaymentRequired {
		retryResp.Body.Close()
		return nil, x402.NewPaymentError(x402.ErrCodePaymentNotAccepted,
			"server returned a second 402 after a signed payment was submitted", nil)
	}

	if retryResp.StatusCode >= 200 && retryResp.StatusCode < 300 {
		t.captureSettlement(retryResp, signed.Network)
	}

	return retryResp, nil
}

func (t *Transport) encodeHeader(signed x402.SignedAuthorization) (string, error) {
	if t.RawJSONHeader {
		raw, err := json.Marshal(signed)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	return encoding.EncodeSignedAuthorization(signed)
}

// resolvableMethods filters to methods whose network chain id this wallet
// can resolve (spec §4.5 step 3's "network is supported by the local
// wallet" clause); asset acceptance is left to the Selector/Signer.CanSign,
// which already encodes "accepted asset" per signer.
func resolvableMethods(methods []x402.PaymentMethod) []x402.PaymentMethod {
	out := make([]x402.PaymentMethod, 0, len(methods))
	for _, m := range methods {
		if _, err := x402.ResolveChainID(m.Network); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// captureSettlement extracts a transactionHash from resp's body (top-level,
// or nested under "payment"/"_transaction" per spec §6) and records it,
// restoring resp.Body so the caller can still read it.
func (t *Transport) captureSettlement(resp *http.Response, network string) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return
	}

	hash := extractTransactionHash(body)
	if hash == "" {
		return
	}
	t.recordSettlement(&Settlement{TransactionHash: hash, Network: network})
}

func extractTransactionHash(body []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}

	if raw, ok := fields["transactionHash"]; ok {
		var hash string
		if json.Unmarshal(raw, &hash) == nil && hash != "" {
			return hash
		}
	}

	for _, key := range []string{"payment", "_transaction"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var nested struct {
			TransactionHash string `json:"transactionHash"`
		}
		if json.Unmarshal(raw, &nested) == nil && nested.TransactionHash != "" {
			return nested.TransactionHash
		}
	}
	return ""
}

var _ fmt.Stringer = (*Settlement)(nil)

// String implements fmt.Stringer for log-friendly settlement summaries.
func (s *Settlement) String() string {
	if s == nil {
		return "<no settlement>"
	}
	return fmt.Sprintf("%s on %s", s.TransactionHash, s.Network)
}
