package checked

import (
	"math"
	"testing"
)

func TestInt64(t *testing.T) {
	cases := []struct {
		name       string
		f          func(a, b int64) (int64, bool)
		a, b, want int64
		wantOk     bool
	}{
		{"add", AddInt64, 2, 3, 5, true},
		{"add", AddInt64, 2, -3, -1, true},
		{"add", AddInt64, -2, -3, -5, true},
		{"add", AddInt64, math.MaxInt64, 1, 0, false},
		{"add", AddInt64, math.MinInt64, math.MinInt64, 0, false},
		{"add", AddInt64, math.MinInt64, -1, 0, false},
		{"sub", SubInt64, 3, 2, 1, true},
		{"sub", SubInt64, 2, 3, -1, true},
		{"sub", SubInt64, -2, -3, 1, true},
		{"sub", SubInt64, math.MinInt64, 1, 0, false},
		{"sub", SubInt64, -2, math.MaxInt64, 0, false},
	}

	for _, c := range cases {
		got, gotOk := c.f(c.a, c.b)
		if got != c.want {
			t.Errorf("%s(%d, %d) = %d want %d", c.name, c.a, c.b, got, c.want)
		}
		if gotOk != c.wantOk {
			t.Errorf("%s(%d, %d) ok = %v want %v", c.name, c.a, c.b, gotOk, c.wantOk)
		}
	}
}

func TestSumInt64(t *testing.T) {
	cases := []struct {
		vals   []int64
		want   int64
		wantOk bool
	}{
		{nil, 0, true},
		{[]int64{15, 10}, 25, true},
		{[]int64{math.MaxInt64, 1}, 0, false},
		{[]int64{math.MaxInt64, 1, -1}, 0, false},
		{[]int64{math.MaxInt64, -1, 1}, math.MaxInt64, true},
	}
	for _, c := range cases {
		got, ok := SumInt64(c.vals...)
		if got != c.want || ok != c.wantOk {
			t.Errorf("SumInt64(%v) = %d, %v want %d, %v", c.vals, got, ok, c.want, c.wantOk)
		}
	}
}
