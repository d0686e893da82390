// Package host describes the slice of the host operating system the refresh
// coordinator depends on: a background task scheduler that invokes registered
// handlers at its own discretion, and a notification center that owns
// authorization, delivery and foreground presentation.
//
// The coordinator only talks to these interfaces. internal/host/simhost
// provides an in-process implementation used by refreshd and by tests.
package host
