package notifier

import (
	"sync"
	"time"

	"bgrefresh/internal/eventbus"
	"bgrefresh/internal/host"
	logx "bgrefresh/pkg/logx"
)

// PresentationOptions is the foreground presentation decision for a host tier.
func PresentationOptions(caps host.Capabilities) host.PresentationOptions {
	if caps.Tier >= host.TierModern {
		return host.PresentBanner | host.PresentList | host.PresentSound
	}
	return host.PresentAlert | host.PresentSound
}

// Policy answers foreground presentation callbacks.
type Policy struct {
	log logx.Logger
	bus eventbus.Bus

	mu   sync.RWMutex
	caps host.Capabilities
}

func NewPolicy(caps host.Capabilities, log logx.Logger, bus eventbus.Bus) *Policy {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Policy{caps: caps, log: log, bus: bus}
}

// Apply switches the capability tier used for later decisions.
func (p *Policy) Apply(caps host.Capabilities) {
	p.mu.Lock()
	p.caps = caps
	p.mu.Unlock()
}

// WillPresent implements host.PresentationDelegate.
func (p *Policy) WillPresent(n host.Notification, completion func(host.PresentationOptions)) {
	p.mu.RLock()
	opts := PresentationOptions(p.caps)
	p.mu.RUnlock()
	if completion != nil {
		completion(opts)
	}
	p.log.Debug("foreground presentation", logx.String("id", n.Request.ID), logx.String("options", opts.String()))
	eventbus.Publish(p.bus, eventbus.NotificationPresented, PresentationEvent{ID: n.Request.ID, Options: opts.String(), At: time.Now()})
}
