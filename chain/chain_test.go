package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402gate/x402"
	"github.com/x402gate/x402/validator"
)

const (
	testAsset     = "0x1111111111111111111111111111111111111111"
	testRecipient = "0x2222222222222222222222222222222222222222"
	testPayer     = "0x3333333333333333333333333333333333333333"
	testTxHash    = "0x4444444444444444444444444444444444444444444444444444444444444444"
)

type stubClient struct {
	receipt *types.Receipt
	err     error
	head    uint64
	headErr error
}

func (s *stubClient) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.receipt, nil
}

func (s *stubClient) BlockNumber(_ context.Context) (uint64, error) {
	if s.headErr != nil {
		return 0, s.headErr
	}
	return s.head, nil
}

func transferLog() *types.Log {
	value := big.NewInt(5000)
	return &types.Log{
		Address: common.HexToAddress(testAsset),
		Topics: []common.Hash{
			transferEventSignature,
			common.BytesToHash(common.HexToAddress(testPayer).Bytes()),
			common.BytesToHash(common.HexToAddress(testRecipient).Bytes()),
		},
		Data: common.LeftPadBytes(value.Bytes(), 32),
	}
}

func method() x402.PaymentMethod {
	return x402.PaymentMethod{
		Network:       "base-sepolia",
		Asset:         testAsset,
		Recipient:     testRecipient,
		MinimumAmount: "1000",
	}
}

func TestBackend_Name(t *testing.T) {
	b := NewBackend(nil)
	if b.Name() != x402.BackendChain {
		t.Errorf("Name() = %v, want %v", b.Name(), x402.BackendChain)
	}
}

func TestBackend_Validate_NoTxHash(t *testing.T) {
	b := NewBackend(nil)
	_, err := b.Validate(context.Background(), method(), validator.Input{})
	if err == nil {
		t.Fatal("expected an error with no transaction hash")
	}
	pe, ok := x402.AsPaymentError(err)
	if !ok || pe.Code != x402.ErrCodeChainUnavailable {
		t.Errorf("expected ErrCodeChainUnavailable, got %v", err)
	}
}

func TestBackend_Validate_DelegatesToVerifyReceipt(t *testing.T) {
	client := &stubClient{
		receipt: &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(100),
			Logs:        []*types.Log{transferLog()},
		},
		head: 100,
	}
	b := NewBackend(map[string]Client{"base-sepolia": client})
	receipt, err := b.Validate(context.Background(), method(), validator.Input{TxHash: testTxHash})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Status != "settled" {
		t.Errorf("expected settled status, got %q", receipt.Status)
	}
}

func TestVerifyReceipt_NoClientForNetwork(t *testing.T) {
	b := NewBackend(map[string]Client{})
	_, err := b.VerifyReceipt(context.Background(), "base-sepolia", testTxHash, method())
	if err == nil {
		t.Fatal("expected an error")
	}
	pe, ok := x402.AsPaymentError(err)
	if !ok || pe.Code != x402.ErrCodeChainUnavailable {
		t.Errorf("expected ErrCodeChainUnavailable, got %v", err)
	}
}

func TestVerifyReceipt_MalformedHash(t *testing.T) {
	b := NewBackend(map[string]Client{"base-sepolia": &stubClient{}})
	_, err := b.VerifyReceipt(context.Background(), "base-sepolia", "not-a-hash", method())
	if err == nil {
		t.Fatal("expected an error")
	}
	pe, ok := x402.AsPaymentError(err)
	if !ok || pe.Code != x402.ErrCodeInvalidFormat {
		t.Errorf("expected ErrCodeInvalidFormat, got %v", err)
	}
}

func TestVerifyReceipt_NotFound(t *testing.T) {
	client := &stubClient{err: geth.NotFound}
	b := NewBackend(map[string]Client{"base-sepolia": client})
	_, err := b.VerifyReceipt(context.Background(), "base-sepolia", testTxHash, method())
	if err == nil {
		t.Fatal("expected an error")
	}
	pe, ok := x402.AsPaymentError(err)
	if !ok || pe.Code != x402.ErrCodeUnknownTransaction {
		t.Errorf("expected ErrCodeUnknownTransaction, got %v", err)
	}
}

func TestVerifyReceipt_RPCFailure(t *testing.T) {
	client := &stubClient{err: errors.New("connection refused")}
	b := NewBackend(map[string]Client{"base-sepolia": client})
	_, err := b.VerifyReceipt(context.Background(), "base-sepolia", testTxHash, method())
	if err == nil {
		t.Fatal("expected an error")
	}
	pe, ok := x402.AsPaymentError(err)
	if !ok || pe.Code != x402.ErrCodeChainUnavailable {
		t.Errorf("expected ErrCodeChainUnavailable, got %v", err)
	}
}

func TestVerifyReceipt_Reverted(t *testing.T) {
	client := &stubClient{receipt: &types.Receipt{Status: types.ReceiptStatusFailed}}
	b := NewBackend(map[string]Client{"base-sepolia": client})
	_, err := b.VerifyReceipt(context.Background(), "base-sepolia", testTxHash, method())
	if err == nil {
		t.Fatal("expected an error")
	}
	pe, ok := x402.AsPaymentError(err)
	if !ok || pe.Code != x402.ErrCodeUnknownTransaction {
		t.Errorf("expected ErrCodeUnknownTransaction, got %v", err)
	}
}

func TestVerifyReceipt_InsufficientConfirmations(t *testing.T) {
	client := &stubClient{
		receipt: &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(100),
			Logs:        []*types.Log{transferLog()},
		},
		head: 100,
	}
	b := NewBackend(map[string]Client{"base-sepolia": client})
	b.MinConfirmations = 5
	_, err := b.VerifyReceipt(context.Background(), "base-sepolia", testTxHash, method())
	if err == nil {
		t.Fatal("expected an error")
	}
	pe, ok := x402.AsPaymentError(err)
	if !ok || pe.Code != x402.ErrCodeUnknownTransaction {
		t.Errorf("expected ErrCodeUnknownTransaction, got %v", err)
	}
}

func TestVerifyReceipt_NoMatchingTransfer(t *testing.T) {
	client := &stubClient{
		receipt: &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(100),
			Logs:        nil,
		},
		head: 100,
	}
	b := NewBackend(map[string]Client{"base-sepolia": client})
	_, err := b.VerifyReceipt(context.Background(), "base-sepolia", testTxHash, method())
	if err == nil {
		t.Fatal("expected an error")
	}
	pe, ok := x402.AsPaymentError(err)
	if !ok || pe.Code != x402.ErrCodeAmountMismatch {
		t.Errorf("expected ErrCodeAmountMismatch, got %v", err)
	}
}

func TestVerifyReceipt_BelowMinimumAmount(t *testing.T) {
	m := method()
	m.MinimumAmount = "999999"
	client := &stubClient{
		receipt: &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(100),
			Logs:        []*types.Log{transferLog()},
		},
		head: 100,
	}
	b := NewBackend(map[string]Client{"base-sepolia": client})
	_, err := b.VerifyReceipt(context.Background(), "base-sepolia", testTxHash, m)
	if err == nil {
		t.Fatal("expected an error")
	}
	pe, ok := x402.AsPaymentError(err)
	if !ok || pe.Code != x402.ErrCodeAmountMismatch {
		t.Errorf("expected ErrCodeAmountMismatch, got %v", err)
	}
}

func TestVerifyReceipt_Success(t *testing.T) {
	client := &stubClient{
		receipt: &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(100),
			Logs:        []*types.Log{transferLog()},
		},
		head: 100,
	}
	b := NewBackend(map[string]Client{"base-sepolia": client})
	receipt, err := b.VerifyReceipt(context.Background(), "base-sepolia", testTxHash, method())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Payer == "" {
		t.Error("expected a resolved payer address")
	}
	if receipt.BlockNumber != 100 {
		t.Errorf("expected block number 100, got %d", receipt.BlockNumber)
	}
}

func TestParseTxHash(t *testing.T) {
	tests := []struct {
		name    string
		hash    string
		wantErr bool
	}{
		{"valid with prefix", testTxHash, false},
		{"too short", "0x1234", true},
		{"non-hex", "0x" + string(make([]byte, 64)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTxHash(tt.hash)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseTxHash() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTransferEventSignatureMatchesKeccak(t *testing.T) {
	want := crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	if transferEventSignature != want {
		t.Error("transferEventSignature does not match the computed Keccak-256 topic")
	}
}
