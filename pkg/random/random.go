package random

import (
	"math/rand"
	"time"
)

// Between returns a uniformly random duration in [lo, hi].
// If hi <= lo, lo is returned.
func Between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)+1))
}
