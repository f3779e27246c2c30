package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	base, ceiling := 10*time.Millisecond, 100*time.Millisecond

	for _, attempt := range []int{0, 1, 2, 3, 35, 100} {
		for i := 0; i < 10; i++ {
			d := calculateBackoffDelay(attempt, base, ceiling)
			assert.LessOrEqual(t, d, ceiling, "attempt %d", attempt)
			assert.GreaterOrEqual(t, d, base/2, "attempt %d", attempt)
		}
	}
}
