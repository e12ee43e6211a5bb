// Package accrual recovers current debt from index-scaled debt records.
//
// Aave-style pools store variable debt divided by a growing borrow index so
// balances never need per-block writes. Current debt is
//
//	actualDebt = scaledDebt * borrowIndex / RAY
//
// computed with 256-bit unsigned integer math that truncates exactly the way
// the contract does. holiman/uint256 gives the same word size and a 512-bit
// intermediate product, so the result matches on-chain bit for bit.
package accrual

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"github.com/atmx/lending-engine/internal/fixedpoint"
)

var (
	// ErrNegative is returned when a scaled debt or index is negative.
	ErrNegative = errors.New("accrual: negative value")

	// ErrOverflow is returned when an input or the result does not fit in
	// 256 bits.
	ErrOverflow = errors.New("accrual: value exceeds 256 bits")
)

var ray = uint256.MustFromBig(fixedpoint.RAY)

// CanonicalAddress lowercases and trims an address so map keys compare
// case-insensitively.
func CanonicalAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ActualDebt returns scaled * index / RAY, truncated toward zero.
// A nil index means no index is known and defaults to RAY (no accrual).
func ActualDebt(scaled, index *big.Int) (*big.Int, error) {
	if scaled == nil || scaled.Sign() == 0 {
		return new(big.Int), nil
	}
	if index == nil {
		index = fixedpoint.RAY
	}
	if scaled.Sign() < 0 || index.Sign() < 0 {
		return nil, ErrNegative
	}

	s, overflow := uint256.FromBig(scaled)
	if overflow {
		return nil, fmt.Errorf("%w: scaled debt %s", ErrOverflow, scaled)
	}
	i, overflow := uint256.FromBig(index)
	if overflow {
		return nil, fmt.Errorf("%w: borrow index %s", ErrOverflow, index)
	}

	out, overflow := new(uint256.Int).MulDivOverflow(s, i, ray)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s / RAY", ErrOverflow, scaled, index)
	}
	return out.ToBig(), nil
}

// AccrueAll converts a scaled-debt map into actual debt per asset. Keys of
// both input maps are canonicalized before lookup, and the result is keyed
// by canonical address. Assets with no known index accrue at RAY.
func AccrueAll(scaled, indexes map[string]*big.Int) (map[string]*big.Int, error) {
	idx := make(map[string]*big.Int, len(indexes))
	for addr, v := range indexes {
		idx[CanonicalAddress(addr)] = v
	}

	out := make(map[string]*big.Int, len(scaled))
	for addr, s := range scaled {
		key := CanonicalAddress(addr)
		debt, err := ActualDebt(s, idx[key])
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", key, err)
		}
		out[key] = debt
	}
	return out, nil
}

// Canonicalize returns a copy of m keyed by canonical address. Used for
// protocols that report debt directly (no index).
func Canonicalize(m map[string]*big.Int) map[string]*big.Int {
	out := make(map[string]*big.Int, len(m))
	for addr, v := range m {
		out[CanonicalAddress(addr)] = v
	}
	return out
}
