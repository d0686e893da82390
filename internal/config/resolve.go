package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultTaskID        = "com.wflw.social.fetch"
	DefaultMinInterval   = 15 * time.Minute
	DefaultTitle         = "WeFlow Social"
	DefaultBody          = "Tienes nuevas actualizaciones"
	DefaultDelay         = time.Second
	DefaultWinddownGrace = 5 * time.Second
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Host:    HostConfig{CapabilityTier: "modern", Authorization: "grant"},
	}
}

// Resolved is Config with defaults applied and durations parsed.
type Resolved struct {
	TaskID        string
	MinInterval   time.Duration
	Title         string
	Body          string
	Delay         time.Duration
	WinddownGrace time.Duration

	Alert, Sound, Badge bool

	PermittedTaskIDs   []string
	MaxPending         int
	TimeBudget         time.Duration
	LaunchJitter       time.Duration
	KillGrace          time.Duration
	CapabilityTier     string
	Authorization      string
	DeliveryRatePerSec float64
	PresentTimeout     time.Duration
	Foreground         bool

	StorageDriver      string
	StoragePath        string
	StorageBusyTimeout time.Duration
}

// Resolve applies defaults and parses every duration, collecting all errors.
func (c *Config) Resolve() (Resolved, error) {
	if c == nil {
		c = Default()
	}
	var (
		r    Resolved
		errs []error
	)
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := parseInterval(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	r.TaskID = c.EffectiveTaskID()
	r.MinInterval = dur("refresh.min_interval", c.Refresh.MinInterval, DefaultMinInterval)
	r.Title = orDefault(c.Refresh.Title, DefaultTitle)
	r.Body = orDefault(c.Refresh.Body, DefaultBody)
	r.Delay = dur("refresh.delay", c.Refresh.Delay, DefaultDelay)
	r.WinddownGrace = dur("refresh.winddown_grace", c.Refresh.WinddownGrace, DefaultWinddownGrace)

	r.Alert, r.Sound, r.Badge = c.Permission.Alert, c.Permission.Sound, c.Permission.Badge
	if !r.Alert && !r.Sound && !r.Badge {
		r.Alert, r.Sound, r.Badge = true, true, true
	}

	h := c.Host
	r.PermittedTaskIDs = append([]string(nil), h.PermittedTaskIDs...)
	if len(r.PermittedTaskIDs) == 0 {
		r.PermittedTaskIDs = []string{r.TaskID}
	}
	r.MaxPending = h.MaxPending
	if r.MaxPending < 0 {
		errs = append(errs, errors.New("host.max_pending: must be >= 0"))
	}
	r.TimeBudget = dur("host.time_budget", h.TimeBudget, 30*time.Second)
	r.LaunchJitter = dur("host.launch_jitter", h.LaunchJitter, 0)
	r.KillGrace = dur("host.kill_grace", h.KillGrace, 10*time.Second)
	r.PresentTimeout = dur("host.present_timeout", h.PresentTimeout, 2*time.Second)
	r.CapabilityTier = strings.ToLower(orDefault(h.CapabilityTier, "modern"))
	if r.CapabilityTier != "modern" && r.CapabilityTier != "legacy" {
		errs = append(errs, fmt.Errorf("host.capability_tier: unknown tier %q", h.CapabilityTier))
	}
	r.Authorization = strings.ToLower(orDefault(h.Authorization, "grant"))
	switch r.Authorization {
	case "grant", "deny", "ignore":
	default:
		errs = append(errs, fmt.Errorf("host.authorization: unknown policy %q", h.Authorization))
	}
	if h.DeliveryRatePerSec < 0 {
		errs = append(errs, errors.New("host.delivery_rate_per_sec: must be >= 0"))
	}
	r.DeliveryRatePerSec = h.DeliveryRatePerSec
	r.Foreground = h.Foreground

	r.StorageDriver = "none"
	if s := c.Storage; s != nil {
		r.StorageDriver = strings.ToLower(orDefault(s.Driver, "file"))
		r.StoragePath = strings.TrimSpace(s.Path)
		r.StorageBusyTimeout = dur("storage.busy_timeout", s.BusyTimeout, 5*time.Second)
	}
	switch r.StorageDriver {
	case "none", "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", r.StorageDriver))
	}

	return r, errors.Join(errs...)
}

// EffectiveTaskID is refresh.task_id with the default applied.
func (c *Config) EffectiveTaskID() string {
	if c == nil {
		return DefaultTaskID
	}
	if id := strings.TrimSpace(c.Refresh.TaskID); id != "" {
		return id
	}
	return DefaultTaskID
}

// Validate reports configuration errors. Suitable as a ConfigManager validator.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	_, err := c.Resolve()
	if t := c.Telegram; t != nil && t.Enabled {
		if strings.TrimSpace(t.Token) == "" {
			err = errors.Join(err, errors.New("telegram.token: required when enabled"))
		}
		if t.ChatID == 0 {
			err = errors.Join(err, errors.New("telegram.chat_id: required when enabled"))
		}
	}
	return err
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
