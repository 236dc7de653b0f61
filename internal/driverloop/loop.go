// Package driverloop is a single-threaded pump: one ticker drains session
// events, advances the movement engine, and services the CLI's command
// queue, so no two goroutines ever touch shared state (the entity model,
// movement engine, protocol phases) concurrently.
package driverloop

import (
	"context"
	"time"
)

// DefaultTickLength is the driver loop's cadence, matched to the client's
// ~60Hz simulation rate.
const DefaultTickLength = time.Second / 60

// Pumpable is one unit of per-tick work: draining a session's queued
// events, advancing the movement engine, or servicing a command queue.
type Pumpable interface {
	Pump(ctx context.Context) error
}

// Loop runs every registered Pumpable once per tick, in order, on a single
// goroutine.
type Loop struct {
	tickLength time.Duration
	pumps      []Pumpable
}

func NewLoop(pumps []Pumpable, opts ...Option) *Loop {
	l := &Loop{
		tickLength: DefaultTickLength,
		pumps:      pumps,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start runs the loop until ctx is cancelled or a pump returns an error.
func (l *Loop) Start(ctx context.Context) error {
	ticker := time.NewTicker(l.tickLength)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				return err
			}
		}
	}
}

// Tick runs every pump once, synchronously, in registration order.
func (l *Loop) Tick(ctx context.Context) error {
	for _, p := range l.pumps {
		if err := p.Pump(ctx); err != nil {
			return err
		}
	}
	return nil
}
