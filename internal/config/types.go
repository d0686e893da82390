package config

// Config is the refreshd configuration file. All durations are Go duration
// strings (e.g. "500ms", "15m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Refresh    RefreshConfig    `json:"refresh"`
	Permission PermissionConfig `json:"permission"`
	Host       HostConfig       `json:"host"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Telegram   *TelegramConfig  `json:"telegram,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// RefreshConfig controls the recurring background refresh task.
//
// Defaults (when fields are omitted/zero):
//   - task_id: "com.wflw.social.fetch"
//   - min_interval: "15m"
//   - title: "WeFlow Social"
//   - body: "Tienes nuevas actualizaciones"
//   - delay: "1s"
//   - winddown_grace: "5s"
//
// task_id is read once at startup; the rest is hot-reloadable.
type RefreshConfig struct {
	TaskID        string `json:"task_id,omitempty"`
	MinInterval   string `json:"min_interval,omitempty"`
	Title         string `json:"title,omitempty"`
	Body          string `json:"body,omitempty"`
	Delay         string `json:"delay,omitempty"`
	WinddownGrace string `json:"winddown_grace,omitempty"`
}

// PermissionConfig lists the notification capabilities requested at launch.
// An all-false section requests alert, sound and badge.
type PermissionConfig struct {
	Alert bool `json:"alert"`
	Sound bool `json:"sound"`
	Badge bool `json:"badge"`
}

// HostConfig tunes the simulated host operating system.
type HostConfig struct {
	// PermittedTaskIDs is the host's static allowlist. Empty means [refresh.task_id].
	PermittedTaskIDs []string `json:"permitted_task_ids,omitempty"`
	MaxPending       int      `json:"max_pending,omitempty"`
	TimeBudget       string   `json:"time_budget,omitempty"`
	LaunchJitter     string   `json:"launch_jitter,omitempty"`
	KillGrace        string   `json:"kill_grace,omitempty"`

	// CapabilityTier is "modern" or "legacy".
	CapabilityTier string `json:"capability_tier,omitempty"`
	// Authorization is how the simulated user answers: "grant", "deny" or "ignore".
	Authorization      string  `json:"authorization,omitempty"`
	DeliveryRatePerSec float64 `json:"delivery_rate_per_sec,omitempty"`
	PresentTimeout     string  `json:"present_timeout,omitempty"`
	// Foreground starts the simulated app in the foreground.
	Foreground bool `json:"foreground,omitempty"`
}

// StorageConfig controls the run and notification ledger.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./refreshd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TelegramConfig enables the Telegram delivery sink.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}
