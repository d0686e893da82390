package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bgrefresh/internal/eventbus"
	"bgrefresh/internal/host"
	logx "bgrefresh/pkg/logx"
)

type fakeCenter struct {
	mu        sync.Mutex
	granted   bool
	authErr   error
	block     bool
	delegates []host.PresentationDelegate
	added     []host.NotificationRequest
	addErr    error
	caps      host.Capabilities
}

func (c *fakeCenter) RequestAuthorization(ctx context.Context, _ host.AuthorizationOptions) (bool, error) {
	if c.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return c.granted, c.authErr
}

func (c *fakeCenter) Add(req host.NotificationRequest, completion func(error)) {
	c.mu.Lock()
	c.added = append(c.added, req)
	err := c.addErr
	c.mu.Unlock()
	if completion != nil {
		completion(err)
	}
}

func (c *fakeCenter) SetDelegate(d host.PresentationDelegate) {
	c.mu.Lock()
	c.delegates = append(c.delegates, d)
	c.mu.Unlock()
}

func (c *fakeCenter) Capabilities() host.Capabilities { return c.caps }

type fixedPerm PermissionState

func (p fixedPerm) State() PermissionState { return PermissionState(p) }

func TestGateResolvesGranted(t *testing.T) {
	t.Parallel()
	c := &fakeCenter{granted: true}
	pol := NewPolicy(host.Capabilities{}, logx.Nop(), nil)
	g := NewGate(c, pol, logx.Nop(), nil)

	if got := g.RequestAuthorization(context.Background(), host.AuthAlert|host.AuthSound|host.AuthBadge); got != PermissionGranted {
		t.Fatalf("state = %s, want granted", got)
	}
	if got := g.State(); got != PermissionGranted {
		t.Fatalf("State() = %s", got)
	}
	g.InstallDelegate()
	if len(c.delegates) != 1 {
		t.Fatalf("delegate installed %d times, want 1", len(c.delegates))
	}
}

func TestGateHostErrorIsDenied(t *testing.T) {
	t.Parallel()
	c := &fakeCenter{authErr: errors.New("notifications unavailable")}
	g := NewGate(c, nil, logx.Nop(), nil)
	if got := g.RequestAuthorization(context.Background(), host.AuthAlert); got != PermissionDenied {
		t.Fatalf("state = %s, want denied", got)
	}
}

func TestGateUnansweredStaysUnknown(t *testing.T) {
	t.Parallel()
	c := &fakeCenter{block: true}
	g := NewGate(c, nil, logx.Nop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if got := g.RequestAuthorization(ctx, host.AuthAlert); got != PermissionUnknown {
		t.Fatalf("state = %s, want unknown", got)
	}
}

func TestGateFirstAnswerStands(t *testing.T) {
	t.Parallel()
	c := &fakeCenter{granted: true}
	g := NewGate(c, nil, logx.Nop(), nil)
	g.RequestAuthorization(context.Background(), host.AuthAlert)

	c.granted = false
	if got := g.RequestAuthorization(context.Background(), host.AuthAlert); got != PermissionGranted {
		t.Fatalf("state = %s, want granted to stick", got)
	}
}

func TestPresentationOptionsByTier(t *testing.T) {
	t.Parallel()
	tests := []struct {
		tier host.Tier
		want host.PresentationOptions
	}{
		{tier: host.TierLegacy, want: host.PresentAlert | host.PresentSound},
		{tier: host.TierModern, want: host.PresentBanner | host.PresentList | host.PresentSound},
	}
	for _, tt := range tests {
		if got := PresentationOptions(host.Capabilities{Tier: tt.tier}); got != tt.want {
			t.Fatalf("tier %s: options = %s, want %s", tt.tier, got, tt.want)
		}
	}
}

func TestPolicyCallsCompletionOnce(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	p := NewPolicy(host.Capabilities{Tier: host.TierModern}, logx.Nop(), bus)
	calls := 0
	var got host.PresentationOptions
	p.WillPresent(host.Notification{Request: host.NotificationRequest{ID: "n1"}}, func(o host.PresentationOptions) {
		calls++
		got = o
	})
	if calls != 1 {
		t.Fatalf("completion calls = %d, want 1", calls)
	}
	if !got.Has(host.PresentBanner) {
		t.Fatalf("options = %s, want banner", got)
	}
	e := <-events
	if e.Type != eventbus.NotificationPresented {
		t.Fatalf("event = %s", e.Type)
	}

	// nil completion must not panic.
	p.WillPresent(host.Notification{}, nil)
}

func TestDispatchUniqueIdentifiers(t *testing.T) {
	t.Parallel()
	c := &fakeCenter{}
	d := NewDispatcher(c, fixedPerm(PermissionGranted), logx.Nop(), nil)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id := d.Dispatch("WeFlow Social", "Tienes nuevas actualizaciones", 0)
		if id == "" || seen[id] {
			t.Fatalf("duplicate or empty id %q at %d", id, i)
		}
		seen[id] = true
	}
	if len(c.added) != 200 {
		t.Fatalf("added = %d", len(c.added))
	}
	if c.added[0].Trigger != MinTrigger {
		t.Fatalf("trigger = %s, want %s", c.added[0].Trigger, MinTrigger)
	}
}

func TestDispatchWhenDeniedStillAdds(t *testing.T) {
	t.Parallel()
	c := &fakeCenter{}
	d := NewDispatcher(c, fixedPerm(PermissionDenied), logx.Nop(), nil)
	id := d.Dispatch("t", "b", 5*time.Second)
	if len(c.added) != 1 || c.added[0].ID != id {
		t.Fatalf("expected dispatch attempt with id %q, got %+v", id, c.added)
	}
	if c.added[0].Trigger != 5*time.Second {
		t.Fatalf("trigger = %s", c.added[0].Trigger)
	}
}

func TestDispatchHostRejectionPublishesDrop(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	c := &fakeCenter{addErr: errors.New("center stopped")}
	d := NewDispatcher(c, nil, logx.Nop(), bus)
	d.DispatchContent(Content{Title: "t", Body: "b"})

	var types []string
	for len(types) < 2 {
		select {
		case e := <-events:
			types = append(types, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("events = %v", types)
		}
	}
	if types[0] != eventbus.NotificationDispatched || types[1] != eventbus.NotificationDropped {
		t.Fatalf("events = %v", types)
	}
}
