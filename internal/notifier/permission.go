package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"bgrefresh/internal/eventbus"
	"bgrefresh/internal/host"
	logx "bgrefresh/pkg/logx"
)

// Gate requests and records notification consent.
type Gate struct {
	center   host.NotificationCenter
	delegate host.PresentationDelegate
	log      logx.Logger
	bus      eventbus.Bus

	state        atomic.Int32
	delegateOnce sync.Once
}

func NewGate(center host.NotificationCenter, delegate host.PresentationDelegate, log logx.Logger, bus eventbus.Bus) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{center: center, delegate: delegate, log: log, bus: bus}
}

// State returns the current permission state. Safe for concurrent use.
func (g *Gate) State() PermissionState {
	if g == nil {
		return PermissionUnknown
	}
	return PermissionState(g.state.Load())
}

// InstallDelegate makes the presentation policy the host's delegate.
// Only the first call has an effect.
func (g *Gate) InstallDelegate() {
	g.delegateOnce.Do(func() {
		if g.delegate == nil {
			return
		}
		g.center.SetDelegate(g.delegate)
		g.log.Debug("presentation delegate installed")
	})
}

// RequestAuthorization asks the user for consent and records the answer.
//
// It never fails: a host error resolves to denied (logged), and a request
// still unanswered when ctx ends leaves the state unknown.
func (g *Gate) RequestAuthorization(ctx context.Context, opts host.AuthorizationOptions) PermissionState {
	g.InstallDelegate()

	granted, err := g.center.RequestAuthorization(ctx, opts)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		g.log.Info("authorization unanswered", logx.String("options", opts.String()))
		return g.State()
	}

	next := PermissionDenied
	if err == nil && granted {
		next = PermissionGranted
	}
	if err != nil {
		g.log.Warn("authorization failed; treating as denied", logx.String("options", opts.String()), logx.Err(err))
	}
	if !g.state.CompareAndSwap(int32(PermissionUnknown), int32(next)) {
		// Resolved by an earlier request; the first answer stands.
		return g.State()
	}
	g.log.Info("authorization resolved", logx.String("state", next.String()), logx.String("options", opts.String()))

	ev := PermissionEvent{State: next.String(), At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	eventbus.Publish(g.bus, eventbus.PermissionResolved, ev)
	return next
}
