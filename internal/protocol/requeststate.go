package protocol

import (
	"sync"
	"time"

	"github.com/COVESA/graphql-vss-server-libs/internal/permissions"
	"github.com/COVESA/graphql-vss-server-libs/internal/singleton"
)

// RequestState is the per-operation context handed to resolvers. It wraps
// permission validation, deduplicated singleton acquisition, and (for
// subscriptions) signal observation that triggers a re-delivery.
type RequestState struct {
	Handlers         Handlers
	Schema           Schema
	SingletonStorage *singleton.Storage
	IsSubscription   bool

	// permissions is nil when no credentials were attached at all (auth
	// required but missing); it is a non-nil, possibly-empty set once a
	// connection_init with (or without) an authorization field has run.
	permissions *permissions.Set

	mu                     sync.Mutex
	didPermissionsCheck    bool
	failedPermissionsCheck bool
	usedSingletons         map[singleton.Key]interface{}

	// notifyFn is called when a dependency signal fires, for subscriptions
	// only. SubscriptionOperation installs one that notifies the server with
	// its own subscription key, which leads to a new delivery.
	notifyFn func()
	// intervalFn lets a subscription resolver override the default 5s
	// delivery interval via SetDeliveryInterval.
	intervalFn func(time.Duration)
}

// NewRequestState builds a RequestState bound to one operation.
func NewRequestState(handlers Handlers, schema Schema, perms *permissions.Set, storage *singleton.Storage, isSubscription bool) *RequestState {
	return &RequestState{
		Handlers:         handlers,
		Schema:           schema,
		permissions:      perms,
		SingletonStorage: storage,
		IsSubscription:   isSubscription,
		usedSingletons:   make(map[singleton.Key]interface{}),
	}
}

// SetNotifyFunc installs the callback invoked when an observed singleton
// signal fires. Only meaningful for subscriptions.
func (rs *RequestState) SetNotifyFunc(fn func()) {
	rs.mu.Lock()
	rs.notifyFn = fn
	rs.mu.Unlock()
}

// SetIntervalFunc installs the callback a subscription operation uses to
// learn about SetDeliveryInterval overrides.
func (rs *RequestState) SetIntervalFunc(fn func(time.Duration)) {
	rs.mu.Lock()
	rs.intervalFn = fn
	rs.mu.Unlock()
}

// SetDeliveryInterval overrides the default 5s delivery interval. Resolvers
// call this while handling a subscription's initial setup.
func (rs *RequestState) SetDeliveryInterval(d time.Duration) {
	rs.mu.Lock()
	fn := rs.intervalFn
	rs.mu.Unlock()
	if fn != nil {
		fn(d)
	}
}

// Observe arranges for the installed notify callback to run whenever the
// given dependency signal channel fires, until stop is closed. Callers pass
// a channel-based publish/subscribe feed; Observe is a no-op for
// non-subscription operations.
func (rs *RequestState) Observe(signal <-chan struct{}, stop <-chan struct{}) {
	if !rs.IsSubscription {
		return
	}
	go func() {
		for {
			select {
			case <-signal:
				rs.mu.Lock()
				fn := rs.notifyFn
				rs.mu.Unlock()
				if fn != nil {
					fn()
				}
			case <-stop:
				return
			}
		}
	}()
}

// Validate fails with NotAuthenticatedError if no permission handle is
// attached, or PermissionDeniedError if the handle is missing one of the
// required keys. Either failure sets failedPermissionsCheck.
func (rs *RequestState) Validate(required ...permissions.Key) error {
	rs.mu.Lock()
	rs.didPermissionsCheck = true
	rs.mu.Unlock()

	if rs.permissions == nil {
		rs.mu.Lock()
		rs.failedPermissionsCheck = true
		rs.mu.Unlock()
		return &NotAuthenticatedError{}
	}

	if err := rs.permissions.Validate(required...); err != nil {
		rs.mu.Lock()
		rs.failedPermissionsCheck = true
		rs.mu.Unlock()
		if missing, ok := err.(*permissions.MissingPermissionError); ok {
			return &PermissionDeniedError{Key: missing.Key}
		}
		return err
	}
	return nil
}

// FailedPermissionsCheck reports whether any Validate call has failed.
func (rs *RequestState) FailedPermissionsCheck() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.failedPermissionsCheck
}

// GetSingleton returns the deduplicated ref for T within this request: the
// first call acquires from storage and keeps that ref for the life of the
// request; later calls within the same RequestState return the same ref
// rather than acquiring (and thus ref-counting) a second one. Callers must
// not call Release on the returned ref themselves — ReleaseSingletons
// releases exactly one ref per type for the whole request.
func GetSingleton[T any](rs *RequestState, construct func(*singleton.Storage) (T, error)) *singleton.Ref[T] {
	key := singleton.TypeKey[T]()

	rs.mu.Lock()
	if cached, ok := rs.usedSingletons[key]; ok {
		rs.mu.Unlock()
		return cached.(*singleton.Ref[T])
	}
	rs.mu.Unlock()

	ref := singleton.Acquire(rs.SingletonStorage, construct)

	rs.mu.Lock()
	rs.usedSingletons[key] = ref
	rs.mu.Unlock()

	return ref
}

// ReleaseSingletons drops every ref this RequestState acquired. Operations
// call this exactly once, when they stop.
func (rs *RequestState) ReleaseSingletons() {
	rs.mu.Lock()
	used := rs.usedSingletons
	rs.usedSingletons = nil
	rs.mu.Unlock()

	for _, ref := range used {
		if releaser, ok := ref.(interface{ Release() }); ok {
			releaser.Release()
		}
	}
}
