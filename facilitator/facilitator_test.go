package facilitator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/x402gate/x402"
	"github.com/x402gate/x402/validator"
)

func testMethod() x402.PaymentMethod {
	return x402.PaymentMethod{
		Scheme:  "exact",
		Network: "base-sepolia",
		Asset:   "0x1111111111111111111111111111111111111111",
	}
}

func testSigned() x402.SignedAuthorization {
	return x402.SignedAuthorization{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base-sepolia",
	}
}

func TestBackend_Name(t *testing.T) {
	b := NewBackend("http://example.invalid")
	if b.Name() != x402.BackendFacilitator {
		t.Errorf("Name() = %v, want %v", b.Name(), x402.BackendFacilitator)
	}
}

func TestBackend_Validate_RequiresSigned(t *testing.T) {
	b := NewBackend("http://example.invalid")
	_, err := b.Validate(t.Context(), testMethod(), validator.Input{})
	if err == nil {
		t.Fatal("expected an error with no signed authorization")
	}
}

func TestBackend_Validate_CombinedEndpointSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(settleResponse{TransactionHash: "0xabc", Payer: "0xpayer", BlockNumber: 42})
	}))
	defer srv.Close()

	b := NewBackend(srv.URL)
	signed := testSigned()
	receipt, err := b.Validate(t.Context(), testMethod(), validator.Input{Signed: &signed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.TransactionHash != "0xabc" {
		t.Errorf("expected transaction hash 0xabc, got %q", receipt.TransactionHash)
	}
	if receipt.Status != "confirmed" {
		t.Errorf("expected confirmed status, got %q", receipt.Status)
	}
}

func TestBackend_Validate_SplitEndpointsSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(verifyResponse{Valid: true})
	})
	mux.HandleFunc("/settle", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(settleResponse{TxHash: "0xdef"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := NewBackend(srv.URL)
	b.SupportsSplitEndpoints = true
	signed := testSigned()
	receipt, err := b.Validate(t.Context(), testMethod(), validator.Input{Signed: &signed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.TransactionHash != "0xdef" {
		t.Errorf("expected transaction hash 0xdef, got %q", receipt.TransactionHash)
	}
}

func TestBackend_Validate_VerifyRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(verifyResponse{Valid: false, Reason: "signature mismatch"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := NewBackend(srv.URL)
	b.SupportsSplitEndpoints = true
	signed := testSigned()
	_, err := b.Validate(t.Context(), testMethod(), validator.Input{Signed: &signed})
	if err == nil {
		t.Fatal("expected an error")
	}
	pe, ok := x402.AsPaymentError(err)
	if !ok || pe.Code != x402.ErrCodeRejected {
		t.Errorf("expected ErrCodeRejected, got %v", err)
	}
}

func TestBackend_Validate_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := NewBackend(srv.URL)
	signed := testSigned()

	_, err := b.tryURL(t.Context(), b.BaseURL, testMethod(), signed)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !isUnavailable(err) {
		t.Errorf("expected a facilitator-unavailable error, got %v", err)
	}
}

func TestBackend_Validate_ClientErrorIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad request"))
	}))
	defer srv.Close()

	b := NewBackend(srv.URL)
	signed := testSigned()
	_, err := b.Validate(t.Context(), testMethod(), validator.Input{Signed: &signed})
	if err == nil {
		t.Fatal("expected an error")
	}
	pe, ok := x402.AsPaymentError(err)
	if !ok || pe.Code != x402.ErrCodeRejected {
		t.Errorf("expected ErrCodeRejected, got %v", err)
	}
}

func TestBackend_Validate_MalformedResponseMissingHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(settleResponse{})
	}))
	defer srv.Close()

	b := NewBackend(srv.URL)
	signed := testSigned()
	_, err := b.Validate(t.Context(), testMethod(), validator.Input{Signed: &signed})
	if err == nil {
		t.Fatal("expected an error")
	}
	pe, ok := x402.AsPaymentError(err)
	if !ok || pe.Code != x402.ErrCodeFacilitatorMalformed {
		t.Errorf("expected ErrCodeFacilitatorMalformed, got %v", err)
	}
}

func TestBackend_Validate_FallsBackOnUnavailable(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(settleResponse{TransactionHash: "0xfallback"})
	}))
	defer fallback.Close()

	b := NewBackend(primary.URL)
	b.FallbackURL = fallback.URL
	signed := testSigned()
	receipt, err := b.Validate(t.Context(), testMethod(), validator.Input{Signed: &signed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.TransactionHash != "0xfallback" {
		t.Errorf("expected fallback hash, got %q", receipt.TransactionHash)
	}
}

func TestBackend_Validate_NoFallbackOnRejection(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer primary.Close()
	fallbackCalled := false
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackCalled = true
		json.NewEncoder(w).Encode(settleResponse{TransactionHash: "0xfallback"})
	}))
	defer fallback.Close()

	b := NewBackend(primary.URL)
	b.FallbackURL = fallback.URL
	signed := testSigned()
	_, err := b.Validate(t.Context(), testMethod(), validator.Input{Signed: &signed})
	if err == nil {
		t.Fatal("expected an error")
	}
	if fallbackCalled {
		t.Error("a terminal rejection must not fall through to the fallback URL")
	}
}

func TestSettleResponse_Hash(t *testing.T) {
	tests := []struct {
		name string
		r    settleResponse
		want string
	}{
		{"transactionHash preferred", settleResponse{TransactionHash: "a", TxHash: "b", Tx: "c"}, "a"},
		{"txHash fallback", settleResponse{TxHash: "b", Tx: "c"}, "b"},
		{"tx fallback", settleResponse{Tx: "c"}, "c"},
		{"all empty", settleResponse{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.hash(); got != tt.want {
				t.Errorf("hash() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnrichMethod(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(supportedResponse{
			Kinds: []struct {
				Scheme  string         `json:"scheme"`
				Network string         `json:"network"`
				Extra   map[string]any `json:"extra"`
			}{
				{Scheme: "exact", Network: "base-sepolia", Extra: map[string]any{"name": "USD Coin", "version": "2"}},
			},
		})
	}))
	defer srv.Close()

	b := NewBackend(srv.URL)
	enriched, err := b.EnrichMethod(t.Context(), testMethod())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enriched.Extra["name"] != "USD Coin" {
		t.Errorf("expected enriched name, got %v", enriched.Extra["name"])
	}
}

func TestEnrichMethod_PreservesExistingExtra(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(supportedResponse{
			Kinds: []struct {
				Scheme  string         `json:"scheme"`
				Network string         `json:"network"`
				Extra   map[string]any `json:"extra"`
			}{
				{Scheme: "exact", Network: "base-sepolia", Extra: map[string]any{"name": "from-facilitator"}},
			},
		})
	}))
	defer srv.Close()

	b := NewBackend(srv.URL)
	m := testMethod()
	m.Extra = map[string]any{"name": "explicit"}
	enriched, err := b.EnrichMethod(t.Context(), m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enriched.Extra["name"] != "explicit" {
		t.Errorf("expected explicit method value to take precedence, got %v", enriched.Extra["name"])
	}
}
