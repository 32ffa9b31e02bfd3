package x402

import (
	"fmt"
	"math/big"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// parseUint256 parses a decimal string as an unsigned integer that fits in
// 256 bits, rejecting empty strings, negative values, and overflow.
func parseUint256(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}
	val, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount format: %s", s)
	}
	if val.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative: %s", s)
	}
	if val.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("amount overflows uint256: %s", s)
	}
	return val, nil
}
