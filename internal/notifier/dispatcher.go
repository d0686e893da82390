package notifier

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"bgrefresh/internal/eventbus"
	"bgrefresh/internal/host"
	logx "bgrefresh/pkg/logx"
)

// PermissionReader is satisfied by *Gate.
type PermissionReader interface {
	State() PermissionState
}

type Dispatcher struct {
	center host.NotificationCenter
	perm   PermissionReader
	log    logx.Logger
	bus    eventbus.Bus

	// newID is swapped in tests.
	newID func() string
}

func NewDispatcher(center host.NotificationCenter, perm PermissionReader, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{center: center, perm: perm, log: log, bus: bus, newID: uuid.NewString}
}

// Dispatch enqueues a notification with a fresh identifier and returns it.
//
// Delivery is attempted regardless of permission state; a denied host drops
// it silently. The host's acceptance callback is only logged.
func (d *Dispatcher) Dispatch(title, body string, delay time.Duration) string {
	if delay <= 0 {
		delay = MinTrigger
	}
	perm := PermissionUnknown
	if d.perm != nil {
		perm = d.perm.State()
	}

	req := host.NotificationRequest{
		ID:      d.newID(),
		Title:   strings.TrimSpace(title),
		Body:    strings.TrimSpace(body),
		Trigger: delay,
	}
	if perm == PermissionDenied {
		d.log.Debug("dispatching without permission; host may drop it", logx.String("id", req.ID))
	}

	ev := DispatchEvent{ID: req.ID, Title: req.Title, Body: req.Body, Trigger: delay, Permission: perm.String(), At: time.Now()}
	// Published before Add: the host may report a rejection synchronously,
	// and the drop must follow the dispatch.
	d.log.Info("notification dispatched", logx.String("id", req.ID), logx.Duration("trigger", delay), logx.String("permission", perm.String()))
	eventbus.Publish(d.bus, eventbus.NotificationDispatched, ev)
	d.center.Add(req, func(err error) {
		if err == nil {
			return
		}
		d.log.Warn("notification rejected by host", logx.String("id", req.ID), logx.Err(err))
		dropped := ev
		dropped.Error = err.Error()
		eventbus.Publish(d.bus, eventbus.NotificationDropped, dropped)
	})
	return req.ID
}

// DispatchContent is Dispatch for a Content value.
func (d *Dispatcher) DispatchContent(c Content) string {
	return d.Dispatch(c.Title, c.Body, c.Delay)
}
