// Package schema adapts a resolver implementation to protocol.Schema. The
// resolver/executor itself is out of scope for this module; FuncSchema is
// the thin seam a real gqlgen-generated executor would sit behind.
package schema

import (
	"context"
	"sync"

	"github.com/COVESA/graphql-vss-server-libs/internal/protocol"
)

// Resolver answers one query or mutation.
type Resolver func(ctx context.Context, state *protocol.RequestState, query, operationName string, variables map[string]interface{}) (protocol.DataPayload, error)

// Subscriber starts a subscription and returns the root field name it
// subscribes under (used to key coalesced notify triggers). Results reach
// the subscription only through onFuture.
type Subscriber func(ctx context.Context, state *protocol.RequestState, query, operationName string, variables map[string]interface{}, onFuture protocol.OnFuture) (rootFieldName string, err error)

// Deliverer recomputes and redelivers every live subscription under
// rootFieldName; it is invoked synchronously from the notify-coalescing
// loop (§4.5) and must call onFuture for each affected subscription key.
type Deliverer func(ctx context.Context, rootFieldName string, subs map[protocol.SubscriptionKey]protocol.OnFuture)

// FuncSchema implements protocol.Schema by delegating to a handful of
// plain functions, so tests (and a future gqlgen-backed implementation)
// can plug in behavior without implementing the full interface surface
// by hand each time.
type FuncSchema struct {
	Resolver   Resolver
	Subscriber Subscriber
	Deliverer  Deliverer

	mu       sync.Mutex
	nextKey  protocol.SubscriptionKey
	byName   map[string]map[protocol.SubscriptionKey]protocol.OnFuture
	keyNames map[protocol.SubscriptionKey]string
}

// New builds a FuncSchema. A nil Deliverer makes Deliver a no-op
// (Resolve-only schemas, e.g. in tests that never subscribe); Subscribe
// still records each subscription's key and name.
func New(resolve Resolver, subscribe Subscriber, deliver Deliverer) *FuncSchema {
	return &FuncSchema{
		Resolver:   resolve,
		Subscriber: subscribe,
		Deliverer:  deliver,
		byName:     make(map[string]map[protocol.SubscriptionKey]protocol.OnFuture),
		keyNames:   make(map[protocol.SubscriptionKey]string),
	}
}

func (s *FuncSchema) Resolve(ctx context.Context, state *protocol.RequestState, query, operationName string, variables map[string]interface{}) (protocol.DataPayload, error) {
	return s.Resolver(ctx, state, query, operationName, variables)
}

func (s *FuncSchema) Subscribe(ctx context.Context, state *protocol.RequestState, query, operationName string, variables map[string]interface{}, onFuture protocol.OnFuture) (protocol.SubscriptionKey, error) {
	name, err := s.Subscriber(ctx, state, query, operationName, variables, onFuture)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.nextKey++
	key := s.nextKey
	if s.byName[name] == nil {
		s.byName[name] = make(map[protocol.SubscriptionKey]protocol.OnFuture)
	}
	s.byName[name][key] = onFuture
	s.keyNames[key] = name
	s.mu.Unlock()

	return key, nil
}

func (s *FuncSchema) Unsubscribe(key protocol.SubscriptionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.keyNames[key]
	if !ok {
		return
	}
	delete(s.keyNames, key)
	delete(s.byName[name], key)
	if len(s.byName[name]) == 0 {
		delete(s.byName, name)
	}
}

func (s *FuncSchema) Deliver(ctx context.Context, rootFieldName string) {
	if s.Deliverer == nil {
		return
	}
	s.mu.Lock()
	subs := make(map[protocol.SubscriptionKey]protocol.OnFuture, len(s.byName[rootFieldName]))
	for k, f := range s.byName[rootFieldName] {
		subs[k] = f
	}
	s.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	s.Deliverer(ctx, rootFieldName, subs)
}
