package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialJitterBounds(t *testing.T) {
	base, max := time.Second, 8*time.Second
	for attempt := 1; attempt <= 6; attempt++ {
		want := min(base<<(attempt-1), max)
		for range 50 {
			d := ExponentialJitter(base, max, attempt)
			assert.GreaterOrEqual(t, d, want-want/5, "attempt %d", attempt)
			assert.LessOrEqual(t, d, max, "attempt %d", attempt)
		}
	}
}

func TestExponentialJitterEdgeCases(t *testing.T) {
	assert.Zero(t, ExponentialJitter(0, time.Second, 3))
	assert.LessOrEqual(t, ExponentialJitter(time.Second, time.Second, 0), time.Second)
	assert.Equal(t, time.Nanosecond, ExponentialJitter(time.Nanosecond, time.Second, 1))
}
