// Package fixedpoint converts between raw on-chain integers and decimal
// values. A raw integer never travels without its decimal scale: the Amount
// type pairs the two.
//
// All conversions use shopspring/decimal and math/big, never float64.
// RAY-scale (10^27) values exceed 64 bits, so nothing here narrows to int64.
package fixedpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeDecimals is returned when a scale below zero is supplied.
	ErrNegativeDecimals = errors.New("fixedpoint: decimals must be non-negative")

	// ErrInvalidAmount is returned when a raw integer string cannot be parsed.
	ErrInvalidAmount = errors.New("fixedpoint: invalid raw integer")
)

// Common on-chain scales.
const (
	WadDecimals int32 = 18
	RayDecimals int32 = 27
)

var (
	// WAD is 10^18, the general Ethereum fixed-point unit.
	WAD = Pow10(WadDecimals)

	// RAY is 10^27, the Aave index and rate unit.
	RAY = Pow10(RayDecimals)

	half = decimal.New(5, -1)
)

// Pow10 returns 10^d as a new big.Int. Negative d yields 1.
func Pow10(d int32) *big.Int {
	if d <= 0 {
		return big.NewInt(1)
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d)), nil)
}

// ToDecimal returns raw / 10^decimals exactly. A nil raw is zero.
func ToDecimal(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// ToRawInteger rounds v to the nearest integer, ties toward +inf
// (floor(v + 0.5)). This is lossy: callers scale to the target token's
// decimals first (see Scale), since rounding before scaling compounds error.
// ToRawInteger(ToDecimal(x, d)) only returns x when d is 0; use
// Scale(ToDecimal(x, d), d) to recover a raw amount at any scale.
func ToRawInteger(v decimal.Decimal) *big.Int {
	return v.Add(half).Floor().BigInt()
}

// Scale shifts v by decimals places and rounds to a raw integer. It is the
// inverse of ToDecimal: Scale(ToDecimal(x, d), d) == x for every x and d.
func Scale(v decimal.Decimal, decimals int32) *big.Int {
	return ToRawInteger(v.Shift(decimals))
}

// Amount is a raw on-chain integer together with its decimal scale.
type Amount struct {
	Raw      *big.Int `json:"raw"`
	Decimals int32    `json:"decimals"`
}

// NewAmount pairs raw with its scale. A nil raw becomes zero.
func NewAmount(raw *big.Int, decimals int32) Amount {
	if raw == nil {
		raw = new(big.Int)
	}
	return Amount{Raw: raw, Decimals: decimals}
}

// ParseAmount parses a base-10 raw integer string at the given scale.
func ParseAmount(s string, decimals int32) (Amount, error) {
	if decimals < 0 {
		return Amount{}, ErrNegativeDecimals
	}
	raw, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Amount{Raw: raw, Decimals: decimals}, nil
}

// Decimal returns the human-readable value of a.
func (a Amount) Decimal() decimal.Decimal {
	return ToDecimal(a.Raw, a.Decimals)
}

// IsZero reports whether a is zero or unset.
func (a Amount) IsZero() bool {
	return a.Raw == nil || a.Raw.Sign() == 0
}

// Sign returns -1, 0 or +1.
func (a Amount) Sign() int {
	if a.Raw == nil {
		return 0
	}
	return a.Raw.Sign()
}

// UnmarshalJSON accepts raw as a JSON number or a base-10 string, so
// clients that cannot carry 256-bit numbers can quote them. A missing or
// null raw leaves Raw nil.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var aux struct {
		Raw      json.RawMessage `json:"raw"`
		Decimals int32           `json:"decimals"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	raw := strings.TrimSpace(string(aux.Raw))
	if raw == "" || raw == "null" {
		*a = Amount{Decimals: aux.Decimals}
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		if err := json.Unmarshal(aux.Raw, &raw); err != nil {
			return err
		}
	}
	parsed, err := ParseAmount(raw, aux.Decimals)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Amount) String() string {
	return a.Decimal().String()
}
