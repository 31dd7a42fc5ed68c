/*
Package checked implements int64 arithmetic with overflow checks,
as needed for summing token amounts.
*/
package checked

import (
	"errors"
	"math"
)

var ErrOverflow = errors.New("arithmetic overflow")

// AddInt64 returns a + b
// with an integer overflow check.
func AddInt64(a, b int64) (sum int64, ok bool) {
	if (b > 0 && a > math.MaxInt64-b) ||
		(b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

// SubInt64 returns a - b
// with an integer overflow check.
func SubInt64(a, b int64) (diff int64, ok bool) {
	if (b > 0 && a < math.MinInt64+b) ||
		(b < 0 && a > math.MaxInt64+b) {
		return 0, false
	}
	return a - b, true
}

// SumInt64 returns the sum of vals.
// It reports false as soon as a partial sum overflows.
func SumInt64(vals ...int64) (sum int64, ok bool) {
	for _, v := range vals {
		sum, ok = AddInt64(sum, v)
		if !ok {
			return 0, false
		}
	}
	return sum, true
}
