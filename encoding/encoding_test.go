package encoding

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/x402gate/x402"
)

func sampleSigned() x402.SignedAuthorization {
	return x402.SignedAuthorization{
		X402Version: 1,
		Scheme:      "eip3009",
		Network:     "base-sepolia",
		Payload: x402.SignedPayload{
			Signature: "0xdead",
			Authorization: x402.Authorization{
				From:        "0xfrom",
				To:          "0xto",
				Value:       "100000",
				ValidAfter:  "1700000000",
				ValidBefore: "1700000300",
				Nonce:       "0xnonce",
			},
		},
	}
}

func TestEncodeDecodeSignedAuthorization_RoundTrip(t *testing.T) {
	original := sampleSigned()

	encoded, err := EncodeSignedAuthorization(original)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if _, err := base64.StdEncoding.DecodeString(encoded); err != nil {
		t.Fatalf("encoded value is not valid base64: %v", err)
	}

	decoded, err := DecodeSignedAuthorization(encoded)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if decoded.Network != original.Network || decoded.Payload.Authorization.Nonce != original.Payload.Authorization.Nonce {
		t.Errorf("round trip mismatch: got %+v", decoded)
	}
}

func TestDecodeSignedAuthorization_FallsBackToRawJSON(t *testing.T) {
	rawJSON := `{"x402Version":1,"scheme":"eip3009","network":"base-sepolia","payload":{"signature":"0xdead","authorization":{"from":"0xfrom","to":"0xto","value":"100000","validAfter":"1700000000","validBefore":"1700000300","nonce":"0xnonce"}}}`

	decoded, err := DecodeSignedAuthorization(rawJSON)
	if err != nil {
		t.Fatalf("expected raw JSON fallback to succeed, got %v", err)
	}
	if decoded.Network != "base-sepolia" {
		t.Errorf("unexpected network: %s", decoded.Network)
	}
}

func TestDecodeSignedAuthorization_BothFail(t *testing.T) {
	_, err := DecodeSignedAuthorization("not base64 and not { json either")
	if err == nil {
		t.Fatal("expected error for undecodable header")
	}
}

func TestDecodeChallenge_Aliases(t *testing.T) {
	body := []byte(`{
		"x402Version": 1,
		"accepts": [
			{
				"scheme": "exact",
				"network": "base-sepolia",
				"asset": "0xasset",
				"payTo": "0xrecipient",
				"maxAmountRequired": "100000",
				"maxTimeoutSeconds": 300,
				"description": "Sentiment Analysis",
				"extra": {"name": "USD Coin", "version": "2"}
			}
		]
	}`)

	challenge, err := DecodeChallenge(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(challenge.Methods) != 1 {
		t.Fatalf("expected 1 method, got %d", len(challenge.Methods))
	}
	m := challenge.Methods[0]
	if m.Recipient != "0xrecipient" {
		t.Errorf("payTo alias not honored: got %q", m.Recipient)
	}
	if m.MaximumAmount != "100000" {
		t.Errorf("maxAmountRequired alias not honored: got %q", m.MaximumAmount)
	}
	if m.TimeoutMillis != 300000 {
		t.Errorf("maxTimeoutSeconds alias not honored: got %d", m.TimeoutMillis)
	}
}

func TestDecodeChallenge_CanonicalFieldNames(t *testing.T) {
	body := []byte(`{"x402Version":1,"methods":[{"scheme":"exact","network":"base-sepolia","asset":"0xasset","recipient":"0xrecipient","maximumAmount":"100000","minimumAmount":"100000","timeout":300000}]}`)

	challenge, err := DecodeChallenge(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(challenge.Methods) != 1 || challenge.Methods[0].Recipient != "0xrecipient" {
		t.Errorf("canonical decode failed: %+v", challenge)
	}
}

func TestDecodeChallenge_InvalidJSON(t *testing.T) {
	_, err := DecodeChallenge([]byte(`{not json`))
	if err == nil || !strings.Contains(err.Error(), "decode challenge") {
		t.Errorf("expected decode error, got %v", err)
	}
}
