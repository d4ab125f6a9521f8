package backoff

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_Sequence(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Delay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestDelay_MatchesFormula(t *testing.T) {
	for n := 0; n < 64; n++ {
		want := math.Min(1000*math.Pow(2, float64(n)), 30000)
		assert.Equal(t, time.Duration(want)*time.Millisecond, Delay(n), "attempt %d", n)
	}
}

func TestDelay_MonotonicAndBounded(t *testing.T) {
	prev := time.Duration(0)
	for _, n := range []int{0, 1, 2, 3, 10, 62, 63, 64, 1 << 20, math.MaxInt} {
		d := Delay(n)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
		assert.LessOrEqual(t, d, Max)
		assert.Positive(t, d)
		prev = d
	}
}

func TestDelay_NegativeAttempt(t *testing.T) {
	assert.Equal(t, Base, Delay(-3))
}
