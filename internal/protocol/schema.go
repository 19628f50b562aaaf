package protocol

import "context"

// SubscriptionKey is an opaque key assigned by the schema to identify a
// live subscription within its executor.
type SubscriptionKey uint64

// NotifyTriggers pairs a root subscription field name with the set of
// subscription keys eligible to deliver during one execution of
// Schema.Deliver. Merge is the only way two triggers combine: a set-union
// of keys under the same name.
type NotifyTriggers struct {
	Name string
	Keys map[SubscriptionKey]struct{}
}

// NewNotifyTriggers builds a NotifyTriggers naming a single key.
func NewNotifyTriggers(name string, key SubscriptionKey) NotifyTriggers {
	return NotifyTriggers{Name: name, Keys: map[SubscriptionKey]struct{}{key: {}}}
}

// Merge returns the set-union of t and other's keys. Both must share Name;
// callers (the server's notify coalescer) only ever merge same-named
// triggers.
func (t NotifyTriggers) Merge(other NotifyTriggers) NotifyTriggers {
	keys := make(map[SubscriptionKey]struct{}, len(t.Keys)+len(other.Keys))
	for k := range t.Keys {
		keys[k] = struct{}{}
	}
	for k := range other.Keys {
		keys[k] = struct{}{}
	}
	return NotifyTriggers{Name: t.Name, Keys: keys}
}

// HasSubscriptionKey reports whether key is part of this trigger set.
func (t NotifyTriggers) HasSubscriptionKey(key SubscriptionKey) bool {
	_, ok := t.Keys[key]
	return ok
}

// Future is a pending delivery result produced by the schema for a live
// subscription. Get blocks until the result is ready; it is called from a
// worker task, never from the main loop.
type Future interface {
	Get(ctx context.Context) (DataPayload, error)
}

// FutureFunc adapts a plain function into a Future.
type FutureFunc func(ctx context.Context) (DataPayload, error)

func (f FutureFunc) Get(ctx context.Context) (DataPayload, error) { return f(ctx) }

// OnFuture is supplied by an Operation when it subscribes; the schema
// invokes it from an arbitrary goroutine whenever a delivery is produced.
type OnFuture func(Future)

// Schema is the externally supplied GraphQL parser/executor contract. Its
// implementation (query validation, schema construction, resolution) is out
// of scope for this package; Schema is referenced only by this interface.
type Schema interface {
	// Resolve executes a one-shot query/mutation and returns its result.
	Resolve(ctx context.Context, state *RequestState, query string, operationName string, variables map[string]interface{}) (DataPayload, error)

	// Subscribe registers a live subscription and returns its key. onFuture
	// is invoked by the schema, from any goroutine, whenever a delivery is
	// produced for this subscription.
	Subscribe(ctx context.Context, state *RequestState, query string, operationName string, variables map[string]interface{}, onFuture OnFuture) (SubscriptionKey, error)

	// Unsubscribe tears down a live subscription. Called from the
	// subscription's own strand.
	Unsubscribe(key SubscriptionKey)

	// Deliver synchronously invokes every live subscription registered
	// under rootFieldName, each of which calls back into its OnFuture.
	// Deliver runs on the server's main loop.
	Deliver(ctx context.Context, rootFieldName string)
}
