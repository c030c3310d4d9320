// Package clock provides Clock implementations.
package clock

import (
	"sync"
	"time"

	"github.com/artpar/billmeter/ports"
)

// Real reads the wall clock in UTC, the zone every reported timestamp uses.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now().UTC()
}

var _ ports.Clock = Real{}

// Fake is a settable clock for tests.
type Fake struct {
	mu  sync.RWMutex
	now time.Time
}

// NewFake creates a fake clock frozen at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.now
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.UTC()
	f.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

var _ ports.Clock = (*Fake)(nil)
