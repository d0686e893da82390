// Package notifier holds the notification side of the refresh coordinator.
//
// # Permission
//
// Gate requests user consent once per process and records the outcome as a
// tri-state (unknown, granted, denied). Host failures resolve to denied; an
// unanswered request leaves the state unknown. Gate also installs the
// foreground presentation delegate exactly once.
//
// # Presentation
//
// Policy answers the host's foreground presentation callback. It never blocks
// and always invokes the completion exactly once, choosing the richer option
// set when the host declares the modern capability tier.
//
// # Dispatch
//
// Dispatcher builds a request with a fresh identifier and hands it to the host.
// Delivery is fire-and-forget: it is attempted regardless of permission state
// and never retried.
package notifier
