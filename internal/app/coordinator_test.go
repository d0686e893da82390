package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"bgrefresh/internal/eventbus"
	"bgrefresh/internal/host"
	"bgrefresh/internal/host/simhost"
	"bgrefresh/internal/notifier"
	"bgrefresh/internal/runtime/supervisor"
	"bgrefresh/internal/task/executor"
	"bgrefresh/internal/task/scheduler"
	logx "bgrefresh/pkg/logx"
)

const testTask = "refresh.fetch"

type harness struct {
	tasks  *simhost.Scheduler
	center *simhost.Center
	coord  *Coordinator
	bus    eventbus.Bus
	sup    *supervisor.Supervisor
	events <-chan eventbus.Event
}

func newHarness(t *testing.T, hc simhost.SchedulerConfig, cc simhost.CenterConfig) *harness {
	t.Helper()
	if hc.PermittedIDs == nil {
		hc.PermittedIDs = []string{testTask}
	}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(256)
	tasks := simhost.NewScheduler(hc, logx.Nop())
	center := simhost.NewCenter(cc, logx.Nop(), bus)
	coord := NewCoordinator(CoordinatorDeps{
		Tasks:    tasks,
		Center:   center,
		Launcher: tasks,
		Log:      logx.Nop(),
		Bus:      bus,
	}, Settings{
		Scheduler: scheduler.Config{TaskID: testTask, MinInterval: 15 * time.Minute},
		Executor:  executor.Config{WinddownGrace: time.Second},
		Content:   notifier.Content{Title: "WeFlow Social", Body: "Tienes nuevas actualizaciones", Delay: 10 * time.Millisecond},
		AuthOpts:  host.AuthAlert | host.AuthSound | host.AuthBadge,
	})
	sup := supervisor.NewSupervisor(context.Background())
	tasks.Start(sup.Context())
	center.Start(sup.Context())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sup.Cancel()
		_ = tasks.Stop(ctx)
		_ = center.Stop(ctx)
		_ = sup.Wait(ctx)
		unsub()
	})
	return &harness{tasks: tasks, center: center, coord: coord, bus: bus, sup: sup, events: events}
}

// next returns the next event of type typ, skipping others.
func (h *harness) next(t *testing.T, typ string) eventbus.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e := <-h.events:
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBackgroundArmsAfterMinInterval(t *testing.T) {
	t.Parallel()
	h := newHarness(t, simhost.SchedulerConfig{}, simhost.CenterConfig{})
	if err := h.coord.DidFinishLaunching(h.sup.Context(), h.sup); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if got := h.coord.Scheduler.State(); got != scheduler.StateRegistered {
		t.Fatalf("state after launch = %v", got)
	}
	if _, ok := h.tasks.Pending(testTask); ok {
		t.Fatal("registration must not schedule a run")
	}

	t0 := time.Now()
	h.coord.DidEnterBackground()
	req, ok := h.tasks.Pending(testTask)
	if !ok || req.EarliestBegin.Before(t0.Add(15*time.Minute)) {
		t.Fatalf("pending = %+v, %v", req, ok)
	}
	if got := h.coord.Scheduler.State(); got != scheduler.StateArmed {
		t.Fatalf("state = %v", got)
	}
	waitFor(t, "permission", func() bool { return h.coord.Gate.State() == notifier.PermissionGranted })
}

func TestExpiredRunReportsFailureAndRearms(t *testing.T) {
	t.Parallel()
	h := newHarness(t, simhost.SchedulerConfig{TimeBudget: 30 * time.Millisecond}, simhost.CenterConfig{})
	_ = h.coord.DidFinishLaunching(h.sup.Context(), h.sup)
	h.coord.Executor.SetWork(func(ctx context.Context) (notifier.Content, error) {
		<-ctx.Done()
		return notifier.Content{}, ctx.Err()
	})
	h.coord.DidEnterBackground()

	t1 := time.Now()
	if err := h.tasks.Trigger(testTask); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	ev := h.next(t, eventbus.RefreshCompleted).Data.(executor.RunEvent)
	if ev.Success || !ev.Expired || ev.NotificationID != "" {
		t.Fatalf("run = %+v", ev)
	}
	waitFor(t, "host completion", func() bool { return h.tasks.Stats().Completed == 1 })
	if st := h.tasks.Stats(); st.Succeeded != 0 || st.Expired != 1 || st.Misuse != 0 {
		t.Fatalf("host stats = %+v", st)
	}
	req, ok := h.tasks.Pending(testTask)
	if !ok || req.EarliestBegin.Before(t1.Add(15*time.Minute)) {
		t.Fatalf("re-armed request = %+v, %v", req, ok)
	}
	if got := h.coord.Scheduler.State(); got != scheduler.StateArmed {
		t.Fatalf("state = %v", got)
	}
}

func TestSuccessfulRunDispatchesOneNotification(t *testing.T) {
	t.Parallel()
	h := newHarness(t, simhost.SchedulerConfig{}, simhost.CenterConfig{})
	_ = h.coord.DidFinishLaunching(h.sup.Context(), h.sup)
	waitFor(t, "permission", func() bool { return h.coord.Gate.State() == notifier.PermissionGranted })
	h.coord.DidEnterBackground()

	if err := h.tasks.Trigger(testTask); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	dispatched := h.next(t, eventbus.NotificationDispatched).Data.(notifier.DispatchEvent)
	run := h.next(t, eventbus.RefreshCompleted).Data.(executor.RunEvent)
	if !run.Success || run.NotificationID != dispatched.ID || dispatched.ID == "" {
		t.Fatalf("run = %+v, dispatched = %+v", run, dispatched)
	}

	waitFor(t, "delivery", func() bool { return len(h.center.Delivered()) == 1 })
	d := h.center.Delivered()[0]
	if d.Notification.Request.ID != dispatched.ID || d.Notification.Request.Title != "WeFlow Social" || !d.Shown {
		t.Fatalf("delivery = %+v", d)
	}
	waitFor(t, "host completion", func() bool { return h.tasks.Stats().Succeeded == 1 })
}

func TestForegroundDeliveryUsesPolicy(t *testing.T) {
	t.Parallel()
	for _, tier := range []host.Tier{host.TierLegacy, host.TierModern} {
		tier := tier
		t.Run(tier.String(), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, simhost.SchedulerConfig{}, simhost.CenterConfig{Tier: tier})
			_ = h.coord.DidFinishLaunching(h.sup.Context(), h.sup)
			waitFor(t, "permission", func() bool { return h.coord.Gate.State() == notifier.PermissionGranted })
			h.center.SetForeground(true)

			h.coord.Dispatcher.Dispatch("t", "b", 5*time.Millisecond)
			waitFor(t, "delivery", func() bool { return len(h.center.Delivered()) == 1 })
			d := h.center.Delivered()[0]
			want := notifier.PresentationOptions(host.Capabilities{Tier: tier}).String()
			if !d.Foreground || !d.Shown || d.Options != want {
				t.Fatalf("delivery = %+v, want options %q", d, want)
			}
		})
	}
}

func TestUnansweredPermissionDoesNotBlockLaunch(t *testing.T) {
	t.Parallel()
	h := newHarness(t, simhost.SchedulerConfig{}, simhost.CenterConfig{Authorization: simhost.AuthIgnore})

	done := make(chan error, 1)
	go func() { done <- h.coord.DidFinishLaunching(h.sup.Context(), h.sup) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("launch: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("launch blocked on the permission prompt")
	}
	if h.coord.Gate.State() != notifier.PermissionUnknown {
		t.Fatalf("state = %v", h.coord.Gate.State())
	}

	// Dispatch proceeds best-effort; the host drops it.
	id := h.coord.Dispatcher.Dispatch("t", "b", 5*time.Millisecond)
	if id == "" {
		t.Fatal("no identifier")
	}
	waitFor(t, "drop", func() bool { return h.center.Dropped() == 1 })
}

func TestDeniedPermissionStillDispatches(t *testing.T) {
	t.Parallel()
	h := newHarness(t, simhost.SchedulerConfig{}, simhost.CenterConfig{Authorization: simhost.AuthDeny})
	_ = h.coord.DidFinishLaunching(h.sup.Context(), h.sup)
	waitFor(t, "permission", func() bool { return h.coord.Gate.State() == notifier.PermissionDenied })
	h.coord.DidEnterBackground()

	if err := h.tasks.Trigger(testTask); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	dispatched := h.next(t, eventbus.NotificationDispatched).Data.(notifier.DispatchEvent)
	if dispatched.Permission != "denied" {
		t.Fatalf("dispatch = %+v", dispatched)
	}
	run := h.next(t, eventbus.RefreshCompleted).Data.(executor.RunEvent)
	if !run.Success {
		t.Fatalf("run = %+v", run)
	}
	waitFor(t, "drop", func() bool { return h.center.Dropped() == 1 })
}

func TestUnpermittedTaskLeavesAppRunning(t *testing.T) {
	t.Parallel()
	h := newHarness(t, simhost.SchedulerConfig{PermittedIDs: []string{"something.else"}}, simhost.CenterConfig{})
	err := h.coord.DidFinishLaunching(h.sup.Context(), h.sup)
	if !errors.Is(err, host.ErrNotPermitted) {
		t.Fatalf("launch err = %v", err)
	}
	h.coord.DidEnterBackground()
	snap := h.coord.Scheduler.Snapshot()
	if snap.State != scheduler.StateUnregistered || snap.SubmitFailures != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if err := h.coord.DidFinishLaunching(h.sup.Context(), h.sup); err == nil {
		t.Fatal("second launch accepted")
	}
}

func TestRunsDoNotOverlapAcrossRearms(t *testing.T) {
	t.Parallel()
	h := newHarness(t, simhost.SchedulerConfig{}, simhost.CenterConfig{})
	_ = h.coord.DidFinishLaunching(h.sup.Context(), h.sup)
	h.coord.DidEnterBackground()

	for i := 0; i < 3; i++ {
		waitFor(t, "pending request", func() bool { _, ok := h.tasks.Pending(testTask); return ok })
		if err := h.tasks.Trigger(testTask); err != nil {
			t.Fatalf("trigger %d: %v", i, err)
		}
		run := h.next(t, eventbus.RefreshCompleted).Data.(executor.RunEvent)
		if !run.Success {
			t.Fatalf("run %d = %+v", i, run)
		}
		waitFor(t, "slot free", func() bool { return !h.tasks.InFlight(testTask) })
	}
	if st := h.tasks.Stats(); st.Launched != 3 || st.Succeeded != 3 || st.Misuse != 0 {
		t.Fatalf("host stats = %+v", st)
	}
	if snap := h.coord.Scheduler.Snapshot(); snap.Runs != 3 || !snap.Armed {
		t.Fatalf("snapshot = %+v", snap)
	}
}
