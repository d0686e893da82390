// Package simhost is an in-process stand-in for the host operating system.
//
// Scheduler implements host.TaskScheduler on top of robfig/cron: every
// pending run request is a one-shot cron entry, launched at its earliest
// begin time plus a random launch jitter, with a per-invocation time budget
// that fires the expiration handler.
//
// Center implements host.NotificationCenter: it answers authorization with a
// fixed policy, delivers requests after their trigger delay, asks the
// presentation delegate while the app is foregrounded and forwards visible
// notifications to delivery sinks at a bounded rate.
package simhost
