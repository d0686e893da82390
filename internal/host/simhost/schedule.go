package simhost

import (
	"sync"
	"time"
)

// oneShot is a cron.Schedule that fires once at (or, if already past, right
// after) at and then returns the zero time, which cron never runs again.
type oneShot struct {
	mu    sync.Mutex
	at    time.Time
	calls int
}

func newOneShot(at time.Time) *oneShot { return &oneShot{at: at} }

func (s *oneShot) Next(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if t.Before(s.at) {
		return s.at
	}
	if s.calls == 1 {
		// Added after its time already passed: run immediately.
		return t
	}
	return time.Time{}
}
