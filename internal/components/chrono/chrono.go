package chrono

import (
	"context"
	"sync"
	"time"
)

// API abstracts over the passing of time so that polling loops and throttling
// can be tested without actually sleeping.
type API interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

type StandardImpl struct{}

func (StandardImpl) Now() time.Time {
	return time.Now()
}

func (StandardImpl) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FakeImpl is a manually advanced clock. Sleep returns immediately and moves the
// clock forward, recording every requested duration.
type FakeImpl struct {
	lock   sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func NewFakeImpl(start time.Time) *FakeImpl {
	return &FakeImpl{now: start}
}

func (f *FakeImpl) Now() time.Time {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.now
}

func (f *FakeImpl) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	f.now = f.now.Add(d)
	f.sleeps = append(f.sleeps, d)
	return nil
}

// Sleeps returns all durations passed to Sleep so far.
func (f *FakeImpl) Sleeps() []time.Duration {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

// Elapsed returns the sum of all sleeps.
func (f *FakeImpl) Elapsed() time.Duration {
	var total time.Duration
	for _, d := range f.Sleeps() {
		total += d
	}
	return total
}

// Date reduces t to its calendar date in t's own location, returned as midnight UTC so
// that dates from different locations compare by day.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
