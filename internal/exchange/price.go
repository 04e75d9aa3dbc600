package exchange

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

func ParsePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: price %q: %w", ErrDecode, s, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price %q", ErrDecode, s)
	}
	return d, nil
}

// MidPrice returns (bid+ask)/2 computed in decimal.
func MidPrice(bid, ask string) (float64, error) {
	b, err := ParsePrice(bid)
	if err != nil {
		return 0, err
	}
	a, err := ParsePrice(ask)
	if err != nil {
		return 0, err
	}
	mid, _ := b.Add(a).Div(two).Float64()
	return mid, nil
}

func ValidPrice(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f > 0
}
