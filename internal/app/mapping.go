package app

import (
	"bgrefresh/internal/config"
	"bgrefresh/internal/host"
	"bgrefresh/internal/host/simhost"
	"bgrefresh/internal/notifier"
	"bgrefresh/internal/storage"
	"bgrefresh/internal/task/executor"
	"bgrefresh/internal/task/scheduler"
	"bgrefresh/internal/transport/telegram"
	logx "bgrefresh/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSettings(r config.Resolved) Settings {
	var auth host.AuthorizationOptions
	if r.Alert {
		auth |= host.AuthAlert
	}
	if r.Sound {
		auth |= host.AuthSound
	}
	if r.Badge {
		auth |= host.AuthBadge
	}
	return Settings{
		Scheduler: scheduler.Config{TaskID: r.TaskID, MinInterval: r.MinInterval},
		Executor:  executor.Config{WinddownGrace: r.WinddownGrace},
		Content:   notifier.Content{Title: r.Title, Body: r.Body, Delay: r.Delay},
		AuthOpts:  auth,
	}
}

func mapHostScheduler(r config.Resolved) simhost.SchedulerConfig {
	return simhost.SchedulerConfig{
		PermittedIDs: r.PermittedTaskIDs,
		MaxPending:   r.MaxPending,
		TimeBudget:   r.TimeBudget,
		LaunchJitter: r.LaunchJitter,
		KillGrace:    r.KillGrace,
	}
}

func mapCenter(r config.Resolved) simhost.CenterConfig {
	return simhost.CenterConfig{
		Tier:           host.ParseTier(r.CapabilityTier),
		Authorization:  simhost.AuthPolicy(r.Authorization),
		DeliveryRate:   r.DeliveryRatePerSec,
		PresentTimeout: r.PresentTimeout,
	}
}

func mapStorage(r config.Resolved) storage.Config {
	return storage.Config{Driver: r.StorageDriver, Path: r.StoragePath, BusyTimeout: r.StorageBusyTimeout}
}

// mapTelegram returns ok=false when the sink is disabled.
func mapTelegram(cfg *config.Config) (telegram.Config, bool) {
	t := cfg.Telegram
	if t == nil || !t.Enabled {
		return telegram.Config{}, false
	}
	return telegram.Config{Token: t.Token, ChatID: t.ChatID, ThreadID: t.ThreadID}, true
}
