package app

import (
	"context"
	"time"

	"bgrefresh/internal/eventbus"
	"bgrefresh/internal/host/simhost"
	"bgrefresh/internal/notifier"
	"bgrefresh/internal/storage"
	"bgrefresh/internal/task/executor"
	logx "bgrefresh/pkg/logx"
)

const recorderWriteTimeout = 2 * time.Second

// LedgerEventTypes are the bus events the Recorder persists.
var LedgerEventTypes = []string{
	eventbus.RefreshCompleted,
	eventbus.NotificationDispatched,
	eventbus.NotificationDropped,
	eventbus.NotificationDelivered,
}

// Recorder persists run outcomes and notification lifecycle events to the ledger.
type Recorder struct {
	store storage.Store
	log   logx.Logger
}

func NewRecorder(store storage.Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log}
}

// Run consumes events until ctx ends or the channel closes.
func (r *Recorder) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			r.Record(e)
		}
	}
}

// Record persists a single event. Unrelated events are ignored.
func (r *Recorder) Record(e eventbus.Event) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recorderWriteTimeout)
	defer cancel()

	var err error
	switch d := e.Data.(type) {
	case executor.RunEvent:
		if e.Type != eventbus.RefreshCompleted {
			return
		}
		err = r.store.AppendRun(ctx, storage.RunRecord{
			RunID:          d.RunID,
			TaskID:         d.TaskID,
			Started:        d.Started,
			Duration:       d.Duration,
			Success:        d.Success,
			Expired:        d.Expired,
			NotificationID: d.NotificationID,
			Error:          d.Error,
		})
	case notifier.DispatchEvent:
		rec := storage.NotificationRecord{ID: d.ID, Title: d.Title, Body: d.Body, Trigger: d.Trigger, At: e.Time}
		switch e.Type {
		case eventbus.NotificationDispatched:
			rec.Status, rec.Detail = storage.StatusDispatched, d.Permission
		case eventbus.NotificationDropped:
			rec.Status, rec.Detail = storage.StatusDropped, d.Error
		default:
			return
		}
		err = r.store.AppendNotification(ctx, rec)
	case simhost.Delivery:
		rec := storage.NotificationRecord{ID: d.Notification.Request.ID, Status: storage.StatusDelivered, Detail: d.Options, At: d.Notification.DeliveredAt}
		if !d.Shown {
			rec.Status = storage.StatusSuppressed
		}
		if d.Error != "" {
			rec.Detail = d.Error
		}
		err = r.store.AppendNotification(ctx, rec)
	default:
		return
	}
	if err != nil {
		r.log.Warn("ledger write failed", logx.String("event", e.Type), logx.Err(err))
	}
}
