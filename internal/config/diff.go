package config

import (
	"reflect"

	logx "bgrefresh/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (telegram token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Refresh != newCfg.Refresh {
		changed = append(changed, "refresh")
		attrs = append(attrs,
			logx.String("refresh.min_interval", newCfg.Refresh.MinInterval),
			logx.String("refresh.delay", newCfg.Refresh.Delay),
			logx.Bool("refresh.task_id_changed", oldCfg.Refresh.TaskID != newCfg.Refresh.TaskID),
		)
	}
	if oldCfg.Permission != newCfg.Permission {
		changed = append(changed, "permission")
	}
	if !reflect.DeepEqual(oldCfg.Host, newCfg.Host) {
		changed = append(changed, "host")
		attrs = append(attrs,
			logx.String("host.capability_tier", newCfg.Host.CapabilityTier),
			logx.String("host.authorization", newCfg.Host.Authorization),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		if newCfg.Telegram != nil {
			attrs = append(attrs,
				logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
				logx.Bool("telegram.token_set", newCfg.Telegram.Token != ""),
			)
		}
	}
	return changed, attrs
}
