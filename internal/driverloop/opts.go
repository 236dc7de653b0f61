package driverloop

import "time"

type Option func(*Loop)

// WithTickLength overrides the default 60Hz cadence, mainly for tests that
// want to drive Tick manually rather than wait on a real ticker.
func WithTickLength(tickLength time.Duration) Option {
	return func(l *Loop) {
		l.tickLength = tickLength
	}
}
