package gate

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"regexp"

	"github.com/x402gate/x402"
)

// responseRecorder buffers a protected handler's response so the settled
// PaymentReceipt can be merged into its JSON body under the configured
// ReceiptKey before anything reaches the client (spec §4.1 step 7). It is
// the narrower-scoped descendant of the teacher's settlementInterceptor:
// that type deferred settlement until the handler committed a status; this
// one only buffers, since settlement already happened before the handler
// ran (DESIGN.md's Open Question decision on settlement timing).
type responseRecorder struct {
	w             http.ResponseWriter
	buf           bytes.Buffer
	status        int
	headerWritten bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{w: w, status: http.StatusOK}
}

// Header implements http.ResponseWriter, exposing the real writer's header
// map directly so the handler's headers reach the client unmodified.
func (r *responseRecorder) Header() http.Header {
	return r.w.Header()
}

// Write implements http.ResponseWriter, buffering the body instead of
// sending it immediately.
func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.headerWritten {
		r.WriteHeader(http.StatusOK)
	}
	return r.buf.Write(b)
}

// WriteHeader implements http.ResponseWriter, recording the status for
// flush to apply once the buffered body is ready.
func (r *responseRecorder) WriteHeader(status int) {
	if r.headerWritten {
		return
	}
	r.headerWritten = true
	r.status = status
}

// Flush implements http.Flusher by passing through to the underlying
// writer; streaming handlers lose buffering semantics but don't panic.
func (r *responseRecorder) Flush() {
	if flusher, ok := r.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker passthrough.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.w.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("gate: underlying ResponseWriter does not support hijacking")
	}
	return hijacker.Hijack()
}

// Push implements http.Pusher passthrough.
func (r *responseRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := r.w.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}

// flush merges receipt into the buffered body under key and writes the
// final status/body to the underlying ResponseWriter. A non-empty body that
// isn't a JSON object is passed through unmodified, and an empty body is
// replaced by a JSON object carrying only the receipt; the receipt
// augmentation is best-effort per spec §6, never a hard requirement that
// breaks a non-JSON resource.
func (r *responseRecorder) flush(key ReceiptKey, receipt *x402.PaymentReceipt) {
	body := r.buf.Bytes()
	merged, ok := mergeReceipt(body, key, receipt)
	if ok {
		body = merged
	}
	r.w.WriteHeader(r.status)
	r.w.Write(body)
}

func mergeReceipt(body []byte, key ReceiptKey, receipt *x402.PaymentReceipt) ([]byte, bool) {
	var fields map[string]json.RawMessage
	if len(body) == 0 {
		fields = map[string]json.RawMessage{}
	} else if err := json.Unmarshal(body, &fields); err != nil {
		return nil, false
	}

	receiptJSON, err := json.Marshal(struct {
		TransactionHash string `json:"transactionHash"`
		Network         string `json:"network"`
		Status          string `json:"status"`
	}{
		TransactionHash: receipt.TransactionHash,
		Network:         receipt.Network,
		Status:          "confirmed",
	})
	if err != nil {
		return nil, false
	}
	fields[string(key)] = receiptJSON

	txHashJSON, err := json.Marshal(receipt.TransactionHash)
	if err == nil {
		if _, exists := fields["transactionHash"]; !exists {
			fields["transactionHash"] = txHashJSON
		}
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, false
	}
	return out, true
}

// legacyTxHashPattern matches a bare 32-byte hex transaction hash, with or
// without the 0x prefix.
var legacyTxHashPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)

// decodeLegacyTxHash extracts a transaction hash from a ModeTransactionHash
// route's X-PAYMENT header: a bare hex string (with or without 0x prefix),
// base64(hex string), or a JSON object carrying a transactionHash field.
func decodeLegacyTxHash(header string) (string, error) {
	if legacyTxHashPattern.MatchString(header) {
		return normalizeTxHash(header), nil
	}

	if raw, err := base64.StdEncoding.DecodeString(header); err == nil {
		candidate := string(raw)
		if legacyTxHashPattern.MatchString(candidate) {
			return normalizeTxHash(candidate), nil
		}
		var payload struct {
			TransactionHash string `json:"transactionHash"`
		}
		if err := json.Unmarshal(raw, &payload); err == nil && legacyTxHashPattern.MatchString(payload.TransactionHash) {
			return normalizeTxHash(payload.TransactionHash), nil
		}
	}

	var payload struct {
		TransactionHash string `json:"transactionHash"`
	}
	if err := json.Unmarshal([]byte(header), &payload); err == nil && legacyTxHashPattern.MatchString(payload.TransactionHash) {
		return normalizeTxHash(payload.TransactionHash), nil
	}

	return "", errors.New("x-payment header is not a recognizable transaction hash")
}

func normalizeTxHash(s string) string {
	if len(s) >= 2 && s[0:2] == "0x" {
		return s
	}
	return "0x" + s
}
