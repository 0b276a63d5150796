package retry

import (
	"math/rand/v2"
	"time"
)

// schedule produces the exponentially growing delays of one retry loop.
type schedule struct {
	current time.Duration
	max     time.Duration
	factor  float64
	jitter  float64
}

func newSchedule(cfg Config) *schedule {
	return &schedule{
		current: cfg.InitialBackoff,
		max:     cfg.MaxBackoff,
		factor:  cfg.Multiplier,
		jitter:  cfg.Jitter,
	}
}

// next returns the delay before the coming retry and grows the base delay.
func (s *schedule) next() time.Duration {
	base := min(s.current, s.max)
	if grown := time.Duration(float64(s.current) * s.factor); grown > s.current {
		s.current = min(grown, s.max)
	}
	if s.jitter == 0 {
		return base
	}
	spread := float64(base) * s.jitter
	return time.Duration(float64(base) - spread + rand.Float64()*2*spread)
}
