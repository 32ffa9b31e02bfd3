// Package encoding handles the wire representations of x402 payloads: the
// base64(JSON)-or-raw-JSON X-PAYMENT header, the Challenge body, and the
// field-name aliases a lenient server or client must accept.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/x402gate/x402"
)

// EncodeSignedAuthorization produces the canonical X-PAYMENT header value:
// base64 of the JSON-encoded SignedAuthorization.
func EncodeSignedAuthorization(signed x402.SignedAuthorization) (string, error) {
	raw, err := json.Marshal(signed)
	if err != nil {
		return "", fmt.Errorf("marshal signed authorization: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSignedAuthorization decodes an X-PAYMENT header value. Per spec
// §4.1 step 2, it tries base64(JSON) first and falls back to raw JSON;
// both failing is reported as a single error so the caller can classify it
// invalid-format.
func DecodeSignedAuthorization(header string) (x402.SignedAuthorization, error) {
	var signed x402.SignedAuthorization

	if raw, err := base64.StdEncoding.DecodeString(header); err == nil {
		if jsonErr := json.Unmarshal(raw, &signed); jsonErr == nil {
			return signed, nil
		}
	}

	if err := json.Unmarshal([]byte(header), &signed); err != nil {
		return x402.SignedAuthorization{}, fmt.Errorf("x-payment header is neither valid base64(JSON) nor raw JSON: %w", err)
	}
	return signed, nil
}

// EncodeChallenge serializes a Challenge for a 402 response body.
func EncodeChallenge(challenge x402.Challenge) ([]byte, error) {
	raw, err := json.Marshal(challenge)
	if err != nil {
		return nil, fmt.Errorf("marshal challenge: %w", err)
	}
	return raw, nil
}

// rawChallenge mirrors Challenge but accepts every alias spec §6 requires a
// client to understand, plus the legacy per-method field names the
// retrieval pack's own teacher code used (maxAmountRequired/payTo/
// maxTimeoutSeconds).
type rawChallenge struct {
	X402Version int              `json:"x402Version"`
	Methods     []rawMethod      `json:"methods"`
	Accepts     []rawMethod      `json:"accepts"`
}

type rawMethod struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	Asset             string         `json:"asset"`
	Recipient         string         `json:"recipient"`
	PayTo             string         `json:"payTo"`
	MaximumAmount     string         `json:"maximumAmount"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	MinimumAmount     string         `json:"minimumAmount"`
	TimeoutMillis     int64          `json:"timeout"`
	MaxTimeoutSeconds int64          `json:"maxTimeoutSeconds"`
	Description       string         `json:"description"`
	Extra             map[string]any `json:"extra"`
}

// DecodeChallenge parses a 402 response body, normalizing every field alias
// listed in spec §6 into the canonical x402.Challenge shape. This is the
// single ingress normalization point referenced by SPEC_FULL.md §12 — every
// other component deals only in canonical field names.
func DecodeChallenge(body []byte) (x402.Challenge, error) {
	var raw rawChallenge
	if err := json.Unmarshal(body, &raw); err != nil {
		return x402.Challenge{}, fmt.Errorf("decode challenge: %w", err)
	}

	methods := raw.Methods
	if len(methods) == 0 {
		methods = raw.Accepts
	}

	out := x402.Challenge{
		X402Version: raw.X402Version,
		Methods:     make([]x402.PaymentMethod, 0, len(methods)),
	}
	for _, m := range methods {
		recipient := m.Recipient
		if recipient == "" {
			recipient = m.PayTo
		}
		maxAmount := m.MaximumAmount
		if maxAmount == "" {
			maxAmount = m.MaxAmountRequired
		}
		timeoutMillis := m.TimeoutMillis
		if timeoutMillis == 0 && m.MaxTimeoutSeconds != 0 {
			timeoutMillis = m.MaxTimeoutSeconds * 1000
		}
		minAmount := m.MinimumAmount
		if minAmount == "" {
			minAmount = maxAmount
		}

		out.Methods = append(out.Methods, x402.PaymentMethod{
			Scheme:        m.Scheme,
			Network:       m.Network,
			Asset:         m.Asset,
			Recipient:     recipient,
			MaximumAmount: maxAmount,
			MinimumAmount: minAmount,
			TimeoutMillis: timeoutMillis,
			Description:   m.Description,
			Extra:         m.Extra,
		})
	}
	return out, nil
}
