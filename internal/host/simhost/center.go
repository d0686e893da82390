package simhost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bgrefresh/internal/eventbus"
	"bgrefresh/internal/host"
	"bgrefresh/internal/runtime/supervisor"
	logx "bgrefresh/pkg/logx"
)

// AuthPolicy is how the simulated user answers the authorization prompt.
type AuthPolicy string

const (
	AuthGrant  AuthPolicy = "grant"
	AuthDeny   AuthPolicy = "deny"
	AuthIgnore AuthPolicy = "ignore"
)

// ParseAuthPolicy maps a config string to a policy.
func ParseAuthPolicy(s string) (AuthPolicy, error) {
	switch p := AuthPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return AuthGrant, nil
	case AuthGrant, AuthDeny, AuthIgnore:
		return p, nil
	default:
		return "", fmt.Errorf("unknown authorization policy %q", s)
	}
}

const DefaultPresentTimeout = 2 * time.Second

var (
	ErrInvalidRequest = errors.New("invalid notification request")
	ErrCenterStopped  = errors.New("notification center stopped")
)

type CenterConfig struct {
	Tier          host.Tier
	Authorization AuthPolicy
	// DeliveryRate caps sink deliveries per second. <= 0 means unlimited.
	DeliveryRate   float64
	PresentTimeout time.Duration
}

func (c CenterConfig) withDefaults() CenterConfig {
	if c.Authorization == "" {
		c.Authorization = AuthGrant
	}
	if c.PresentTimeout <= 0 {
		c.PresentTimeout = DefaultPresentTimeout
	}
	return c
}

func (c CenterConfig) limit() rate.Limit {
	if c.DeliveryRate <= 0 {
		return rate.Inf
	}
	return rate.Limit(c.DeliveryRate)
}

// Delivery is one notification the host acted on.
type Delivery struct {
	Notification host.Notification `json:"notification"`
	Foreground   bool              `json:"foreground"`
	Options      string            `json:"options,omitempty"`
	// Shown is false when the host suppressed the notification.
	Shown bool   `json:"shown"`
	Error string `json:"error,omitempty"`
}

type scheduledNote struct {
	req   host.NotificationRequest
	timer *time.Timer
}

// Center implements host.NotificationCenter.
type Center struct {
	log     logx.Logger
	bus     eventbus.Bus
	limiter *rate.Limiter

	mu         sync.Mutex
	cfg        CenterConfig
	sinks      []host.DeliverySink
	delegate   host.PresentationDelegate
	foreground bool
	// answered is nil until the user answered the prompt.
	answered  *bool
	authOpts  host.AuthorizationOptions
	pending   map[string]*scheduledNote
	delivered []Delivery
	coalesced uint64
	dropped   uint64
	sup       *supervisor.Supervisor
	stopped   bool
}

func NewCenter(cfg CenterConfig, log logx.Logger, bus eventbus.Bus, sinks ...host.DeliverySink) *Center {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Center{
		log:     log,
		bus:     bus,
		cfg:     cfg,
		sinks:   sinks,
		limiter: rate.NewLimiter(cfg.limit(), 1),
		pending: map[string]*scheduledNote{},
	}
}

// Start binds deliveries to ctx. Requests added before Start are delivered
// on a background context.
func (c *Center) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sup == nil {
		c.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(c.log))
	}
}

// Stop cancels pending deliveries and waits for in-progress ones until ctx ends.
func (c *Center) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	for id, n := range c.pending {
		n.timer.Stop()
		delete(c.pending, id)
	}
	sup := c.sup
	c.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

// Apply updates presentation tier, authorization policy and pacing.
// An authorization answer already given is kept.
func (c *Center) Apply(cfg CenterConfig) {
	cfg = cfg.withDefaults()
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.limiter.SetLimit(cfg.limit())
}

func (c *Center) AddSink(s host.DeliverySink) {
	if s == nil {
		return
	}
	c.mu.Lock()
	c.sinks = append(c.sinks, s)
	c.mu.Unlock()
}

func (c *Center) Capabilities() host.Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return host.Capabilities{Tier: c.cfg.Tier}
}

func (c *Center) SetDelegate(d host.PresentationDelegate) {
	c.mu.Lock()
	c.delegate = d
	c.mu.Unlock()
}

// SetForeground switches the simulated app between foreground and background.
func (c *Center) SetForeground(fg bool) {
	c.mu.Lock()
	c.foreground = fg
	c.mu.Unlock()
	c.log.Debug("app state changed", logx.Bool("foreground", fg))
}

func (c *Center) Foreground() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.foreground
}

// RequestAuthorization answers with the configured policy. Once answered, the
// same answer is returned without prompting again. AuthIgnore blocks until ctx ends.
func (c *Center) RequestAuthorization(ctx context.Context, opts host.AuthorizationOptions) (bool, error) {
	c.mu.Lock()
	if c.answered != nil {
		granted := *c.answered
		c.mu.Unlock()
		return granted, nil
	}
	policy := c.cfg.Authorization
	c.mu.Unlock()

	c.log.Info("authorization prompt shown", logx.String("options", opts.String()), logx.String("policy", string(policy)))
	switch policy {
	case AuthIgnore:
		<-ctx.Done()
		return false, ctx.Err()
	case AuthDeny, AuthGrant:
		granted := policy == AuthGrant
		c.mu.Lock()
		if c.answered == nil {
			c.answered = &granted
			c.authOpts = opts
		}
		granted = *c.answered
		c.mu.Unlock()
		return granted, nil
	default:
		return false, fmt.Errorf("authorization policy %q", policy)
	}
}

// Authorized reports whether the user granted authorization.
func (c *Center) Authorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answered != nil && *c.answered
}

// Add schedules req for delivery after its trigger. A pending request with the
// same identifier is replaced.
func (c *Center) Add(req host.NotificationRequest, completion func(error)) {
	err := c.add(req)
	if completion != nil {
		completion(err)
	}
}

func (c *Center) add(req host.NotificationRequest) error {
	if strings.TrimSpace(req.ID) == "" {
		return fmt.Errorf("%w: empty identifier", ErrInvalidRequest)
	}
	if req.Trigger <= 0 {
		return fmt.Errorf("%w: trigger must be positive", ErrInvalidRequest)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrCenterStopped
	}
	if old, ok := c.pending[req.ID]; ok {
		old.timer.Stop()
		c.coalesced++
		c.log.Warn("notification identifier collided; replacing pending request", logx.String("id", req.ID))
	}
	n := &scheduledNote{req: req}
	n.timer = time.AfterFunc(req.Trigger, func() { c.fire(n) })
	c.pending[req.ID] = n
	return nil
}

// PendingIDs lists requests not yet delivered.
func (c *Center) PendingIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.pending))
	for id := range c.pending {
		out = append(out, id)
	}
	return out
}

// Delivered returns what the host did with every fired request, oldest first.
func (c *Center) Delivered() []Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Delivery(nil), c.delivered...)
}

// Coalesced counts requests replaced by a later one with the same identifier.
func (c *Center) Coalesced() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coalesced
}

// Dropped counts requests silently discarded for lack of authorization.
func (c *Center) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Center) fire(n *scheduledNote) {
	c.mu.Lock()
	if c.pending[n.req.ID] != n {
		c.mu.Unlock()
		return
	}
	delete(c.pending, n.req.ID)
	if c.answered == nil || !*c.answered {
		c.dropped++
		c.mu.Unlock()
		c.log.Debug("notification dropped; not authorized", logx.String("id", n.req.ID))
		return
	}
	sup := c.sup
	c.mu.Unlock()

	note := host.Notification{Request: n.req, DeliveredAt: time.Now()}
	if sup == nil {
		go c.deliver(context.Background(), note)
		return
	}
	sup.Go0("notification."+n.req.ID, func(ctx context.Context) { c.deliver(ctx, note) })
}

func (c *Center) deliver(ctx context.Context, n host.Notification) {
	c.mu.Lock()
	fg := c.foreground
	delegate := c.delegate
	timeout := c.cfg.PresentTimeout
	sinks := append([]host.DeliverySink(nil), c.sinks...)
	c.mu.Unlock()

	d := Delivery{Notification: n, Foreground: fg, Shown: true}
	if fg {
		opts, ok := c.present(ctx, delegate, n, timeout)
		d.Options = opts.String()
		d.Shown = ok && visible(opts)
	}

	if d.Shown {
		var errs []error
		for _, s := range sinks {
			if err := c.limiter.Wait(ctx); err != nil {
				errs = append(errs, err)
				break
			}
			if err := s.Deliver(ctx, n); err != nil {
				c.log.Warn("delivery sink failed", logx.String("id", n.Request.ID), logx.Err(err))
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			d.Error = err.Error()
		}
	}

	c.mu.Lock()
	c.delivered = append(c.delivered, d)
	c.mu.Unlock()
	c.log.Info("notification delivered", logx.String("id", n.Request.ID), logx.Bool("foreground", fg), logx.Bool("shown", d.Shown), logx.String("options", d.Options))
	eventbus.Publish(c.bus, eventbus.NotificationDelivered, d)
}

// present asks the delegate for options. No delegate, or no answer within
// timeout, suppresses the notification.
func (c *Center) present(ctx context.Context, d host.PresentationDelegate, n host.Notification, timeout time.Duration) (host.PresentationOptions, bool) {
	if d == nil {
		return 0, false
	}
	ch := make(chan host.PresentationOptions, 1)
	var once sync.Once
	d.WillPresent(n, func(o host.PresentationOptions) {
		once.Do(func() { ch <- o })
	})
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case o := <-ch:
		return o, true
	case <-t.C:
		c.log.Warn("presentation delegate never answered; suppressing", logx.String("id", n.Request.ID))
		return 0, false
	case <-ctx.Done():
		return 0, false
	}
}

func visible(o host.PresentationOptions) bool {
	return o&(host.PresentAlert|host.PresentBanner|host.PresentList) != 0
}

// RequestedOptions returns the options of the answered authorization prompt.
func (c *Center) RequestedOptions() host.AuthorizationOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authOpts
}
