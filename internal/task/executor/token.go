package executor

import (
	"sync/atomic"

	"bgrefresh/internal/host"
)

const (
	slotOpen int32 = iota
	slotSucceeded
	slotFailed
)

// Token is the single-write completion slot of one invocation.
// The first Complete wins; later calls are no-ops.
type Token struct {
	h    host.TaskHandle
	slot atomic.Int32
}

func NewToken(h host.TaskHandle) *Token { return &Token{h: h} }

// Complete reports the outcome to the host if nobody did yet.
// It returns true for the call that actually wrote the slot.
func (t *Token) Complete(success bool) bool {
	v := slotFailed
	if success {
		v = slotSucceeded
	}
	if !t.slot.CompareAndSwap(slotOpen, v) {
		return false
	}
	t.h.SetTaskCompleted(success)
	return true
}

// Result reports whether the slot was written and with what outcome.
func (t *Token) Result() (done, success bool) {
	v := t.slot.Load()
	return v != slotOpen, v == slotSucceeded
}
