package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bgrefresh/internal/eventbus"
	"bgrefresh/internal/host"
	"bgrefresh/internal/host/simhost"
	"bgrefresh/internal/notifier"
	"bgrefresh/internal/storage"
	"bgrefresh/internal/task/executor"
	logx "bgrefresh/pkg/logx"
)

func TestRecorderPersistsLedger(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "ledger")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	rec := NewRecorder(st, logx.Nop())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []eventbus.Event{
		{Type: eventbus.RefreshStarted, Time: at, Data: executor.RunEvent{RunID: "ignored"}},
		{Type: eventbus.NotificationDispatched, Time: at, Data: notifier.DispatchEvent{ID: "n1", Title: "T", Body: "B", Trigger: time.Second, Permission: "granted"}},
		{Type: eventbus.NotificationDropped, Time: at, Data: notifier.DispatchEvent{ID: "n2", Error: "invalid"}},
		{Type: eventbus.NotificationDelivered, Time: at, Data: simhost.Delivery{
			Notification: host.Notification{Request: host.NotificationRequest{ID: "n1"}, DeliveredAt: at},
			Foreground:   true, Options: "banner|list|sound", Shown: true,
		}},
		{Type: eventbus.NotificationDelivered, Time: at, Data: simhost.Delivery{
			Notification: host.Notification{Request: host.NotificationRequest{ID: "n3"}, DeliveredAt: at},
			Foreground:   true, Options: "none",
		}},
		{Type: eventbus.RefreshCompleted, Time: at, Data: executor.RunEvent{RunID: "r1", TaskID: testTask, Started: at, Duration: 2 * time.Second, Success: true, NotificationID: "n1"}},
		{Type: eventbus.PermissionResolved, Time: at, Data: notifier.PermissionEvent{State: "granted"}},
	}

	ch := make(chan eventbus.Event, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	rec.Run(context.Background(), ch)

	runs, err := st.RecentRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "r1" || !runs[0].Success || runs[0].NotificationID != "n1" {
		t.Fatalf("runs = %+v", runs)
	}

	notes, err := st.RecentNotifications(context.Background(), 10)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	want := []struct{ id, status, detail string }{
		{"n1", storage.StatusDispatched, "granted"},
		{"n2", storage.StatusDropped, "invalid"},
		{"n1", storage.StatusDelivered, "banner|list|sound"},
		{"n3", storage.StatusSuppressed, "none"},
	}
	if len(notes) != len(want) {
		t.Fatalf("notifications = %+v", notes)
	}
	for i, w := range want {
		if notes[i].ID != w.id || notes[i].Status != w.status || notes[i].Detail != w.detail {
			t.Fatalf("notification %d = %+v, want %+v", i, notes[i], w)
		}
	}
}

func TestRecorderWithoutStoreIsNoop(t *testing.T) {
	t.Parallel()
	rec := NewRecorder(nil, logx.Nop())
	rec.Record(eventbus.Event{Type: eventbus.RefreshCompleted, Data: executor.RunEvent{RunID: "r"}})
}
