// Package throttle spaces out sequential requests to a bank by a randomized delay so
// that the request pattern does not trip anti-automation defenses.
package throttle

import (
	"context"
	"math/rand/v2"
	"time"

	"banksync/internal/components/assert"
	"banksync/internal/components/chrono"
	"banksync/internal/components/telemetry"
)

const report_gate_wait = "gate.wait"

type Gate struct {
	min   time.Duration
	max   time.Duration
	clock chrono.API
	tel   telemetry.API
	// rand returns a float in [0, 1), it is replaceable for tests.
	rand func() float64
}

func NewGate(min, max time.Duration, clock chrono.API, tel telemetry.API) *Gate {
	assert.NotNil(clock)
	assert.NotNil(tel)
	assert.True(min >= 0 && min <= max, "invalid throttle range [%s, %s]", min, max)

	return &Gate{
		min:   min,
		max:   max,
		clock: clock,
		tel:   telemetry.NewScopedAPI("throttle", tel),
		rand:  rand.Float64,
	}
}

// Delay draws the next delay uniformly from [min, max].
func (g *Gate) Delay() time.Duration {
	spread := g.max - g.min
	if spread == 0 {
		return g.min
	}
	return g.min + time.Duration(g.rand()*float64(spread+1))
}

// Wait blocks for a random delay. It only returns early when ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	d := g.Delay()
	g.tel.ReportDebug(report_gate_wait, d.String())
	return g.clock.Sleep(ctx, d)
}
