// Package scheduler keeps the recurring background refresh alive.
//
// It registers one task identifier with the host exactly once and submits run
// requests with a minimum spacing. The state machine is:
//
//	Unregistered -> Registered -> Armed -> Running -> Armed (loop)
//
// Submission failures (queue full, unregistered identifier) are reported and
// logged but never retried here: the next natural trigger (entering the
// background, or the next invocation) submits again.
package scheduler
