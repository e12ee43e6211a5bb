// Package borrow converts a USD borrowing capacity into the largest token
// amount that is safe to request.
//
// Quoting the exact theoretical maximum frequently reverts on-chain because
// the oracle price moves between quote and execution, so a safety buffer is
// taken off the USD figure before conversion.
package borrow

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/atmx/lending-engine/internal/fixedpoint"
)

var (
	// ErrInvalidBuffer is returned when the buffer is outside [0, 100].
	ErrInvalidBuffer = errors.New("borrow: buffer percent must be between 0 and 100")

	// ErrNegativeDecimals is returned for a negative token scale.
	ErrNegativeDecimals = errors.New("borrow: token decimals must be non-negative")

	// DefaultBufferPercent is applied when no buffer option is given.
	DefaultBufferPercent = decimal.NewFromInt(1)

	hundred = decimal.NewFromInt(100)
)

type options struct {
	buffer decimal.Decimal
}

// Option configures MaxSafeBorrowAmount.
type Option func(*options)

// WithBuffer sets the safety buffer as a percentage in [0, 100].
func WithBuffer(percent decimal.Decimal) Option {
	return func(o *options) {
		o.buffer = percent
	}
}

// MaxSafeBorrowAmount returns the raw token amount (at tokenDecimals)
// that usd buys at price, after the safety buffer:
//
//	adjustedUSD = usd * (100 - buffer) / 100
//	scale       = tokenDecimals + price.Decimals - usd.Decimals
//	amount      = adjustedUSD * 10^scale / price          (scale >= 0)
//	amount      = adjustedUSD / (price * 10^-scale)       (scale < 0)
//
// Integer division truncates, so the result never exceeds the exact
// figure. A zero price, or a non-positive USD amount, yields zero.
func MaxSafeBorrowAmount(usd, price fixedpoint.Amount, tokenDecimals int32, opts ...Option) (*big.Int, error) {
	o := options{buffer: DefaultBufferPercent}
	for _, opt := range opts {
		opt(&o)
	}
	if o.buffer.IsNegative() || o.buffer.GreaterThan(hundred) {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidBuffer, o.buffer)
	}
	if tokenDecimals < 0 {
		return nil, ErrNegativeDecimals
	}
	if price.Sign() <= 0 || usd.Sign() <= 0 {
		return new(big.Int), nil
	}

	adjusted := decimal.NewFromBigInt(usd.Raw, 0).
		Mul(hundred.Sub(o.buffer)).
		Div(hundred).
		Floor().
		BigInt()

	scale := tokenDecimals + price.Decimals - usd.Decimals
	out := new(big.Int)
	if scale >= 0 {
		out.Mul(adjusted, fixedpoint.Pow10(scale))
		out.Quo(out, price.Raw)
	} else {
		denom := new(big.Int).Mul(price.Raw, fixedpoint.Pow10(-scale))
		out.Quo(adjusted, denom)
	}
	return out, nil
}
