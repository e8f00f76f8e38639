package refill

import (
	"time"

	"golang.org/x/time/rate"
)

// Throttle admits at most one check per interval. Excess calls are dropped.
type Throttle struct {
	limiter *rate.Limiter
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Allow reports whether a check may run at now
func (t *Throttle) Allow(now time.Time) bool {
	return t.limiter.AllowN(now, 1)
}
