package protocol

import "time"

// Timer is a steady-clock one-shot timer bound to the main loop.
type Timer interface {
	// Arm schedules fn to run on the main loop after d. Arming an
	// already-armed timer is a no-op per the Operation subscription
	// "don't starve" rule; callers that want rescheduling call Stop first.
	Arm(d time.Duration, fn func())
	// Armed reports whether a fire is currently scheduled.
	Armed() bool
	// Stop cancels a pending fire, if any.
	Stop()
}

// Handlers is the callback bundle a Connection uses to reach back into its
// owning Server, without holding a reference to the Server type itself.
// This is a deliberate redesign of the original's closures-that-capture-
// the-server: every field here is independently nil-able, so tearDown can
// break the whole cycle with a single assignment of the zero value, rather
// than manufacturing and clearing seven separate captures.
type Handlers struct {
	// OnReply delivers one frame back to this connection's transport.
	OnReply func(Envelope)
	// Defer posts fn to the main loop.
	Defer func(fn func())
	// OffloadWork posts fn to the worker pool.
	OffloadWork func(fn func())
	// CreateTimer returns a new main-loop-bound one-shot timer.
	CreateTimer func() Timer
	// Notify coalesces triggers into the pending notify map.
	Notify func(NotifyTriggers)
	// CurrentNotificationTriggers is valid only while a delivery callback
	// from Schema.Deliver is executing on the main loop.
	CurrentNotificationTriggers func() (NotifyTriggers, bool)
	// Terminate closes this connection's socket.
	Terminate func()
	// OnOperationStarted is called once an operation has been added to the
	// connection's operations map, for live-operation accounting.
	OnOperationStarted func()
	// OnOperationStopped is called once an operation has been removed from
	// the connection's operations map (via stop, terminate, or tearDown).
	OnOperationStopped func()
	// OnResolverFailure is called whenever a resolver or singleton
	// construction failure is surfaced to the client as an error frame.
	OnResolverFailure func()
}

// IsZero reports whether the bundle has been cleared (post-tearDown).
func (h Handlers) IsZero() bool {
	return h.OnReply == nil && h.Defer == nil && h.OffloadWork == nil &&
		h.CreateTimer == nil && h.Notify == nil &&
		h.CurrentNotificationTriggers == nil && h.Terminate == nil &&
		h.OnOperationStarted == nil && h.OnOperationStopped == nil &&
		h.OnResolverFailure == nil
}
