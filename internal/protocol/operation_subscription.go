package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/COVESA/graphql-vss-server-libs/internal/logging"
	"github.com/vektah/gqlparser/v2/ast"
)

const defaultDeliveryInterval = 5 * time.Second

// SubscriptionOperation implements the continuous subscription lifecycle:
// Created -> Subscribing -> Active(idle|pending-delivery|delivering) ->
// Unsubscribing -> Stopped. All interaction with the schema runs on a
// single dedicated goroutine (the "strand"), since the schema executor is
// not thread-safe across one subscription's lifetime.
type SubscriptionOperation struct {
	core

	doc *ast.QueryDocument

	strand chan func()

	mu              sync.Mutex
	interval        time.Duration
	lastDelivery    time.Time
	pendingDelivery Future
	deliveryTimer   Timer
	key             SubscriptionKey
	keyAssigned     bool
	rootFieldName   string

	observeStop chan struct{}
}

// NewSubscriptionOperation builds a continuous subscription. doc is the
// already-parsed AST of query (the Connection parses once to decide
// Regular vs. Subscription and reuses the result here).
func NewSubscriptionOperation(id, query, operationName string, variables map[string]interface{}, state *RequestState, doc *ast.QueryDocument, log logging.Logger) *SubscriptionOperation {
	o := &SubscriptionOperation{
		core:        newCore(id, query, operationName, variables, state, log),
		doc:         doc,
		strand:      make(chan func(), 8),
		interval:    defaultDeliveryInterval,
		observeStop: make(chan struct{}),
	}
	go o.runStrand()
	state.SetIntervalFunc(o.setInterval)
	state.SetNotifyFunc(func() {
		o.mu.Lock()
		key, assigned, name := o.key, o.keyAssigned, o.rootFieldName
		o.mu.Unlock()
		if assigned && !o.Stopped() {
			o.state.Handlers.Notify(NewNotifyTriggers(name, key))
		}
	})
	return o
}

func (o *SubscriptionOperation) Kind() OperationKind { return KindSubscription }

func (o *SubscriptionOperation) runStrand() {
	for fn := range o.strand {
		fn()
	}
}

func (o *SubscriptionOperation) onStrand(fn func()) {
	defer func() {
		// The strand channel is closed once Stop's teardown task has run;
		// a send to it after close would panic. Any task racing teardown
		// is safely dropped instead.
		recover()
	}()
	o.strand <- fn
}

func (o *SubscriptionOperation) setInterval(d time.Duration) {
	o.mu.Lock()
	o.interval = d
	o.mu.Unlock()
}

// Start runs schema.Subscribe and the root-field-name extraction on the
// strand, then triggers an initial delivery.
func (o *SubscriptionOperation) Start() {
	o.onStrand(func() {
		key, err := o.state.Schema.Subscribe(context.Background(), o.state, o.query, o.operationName, o.variables, o.onFuture)
		if err != nil {
			o.state.Handlers.Defer(func() {
				if o.Stopped() {
					return
				}
				o.sendResolverFailure(err)
				o.markStopping()
				o.finish()
			})
			return
		}

		name, err := RootSubscriptionFieldName(o.doc)
		if err != nil {
			o.state.Handlers.Defer(func() {
				if o.Stopped() {
					return
				}
				o.sendError(err.Error())
				o.markStopping()
				o.finish()
			})
			o.state.Schema.Unsubscribe(key)
			return
		}

		o.mu.Lock()
		o.key = key
		o.keyAssigned = true
		o.rootFieldName = name
		o.mu.Unlock()

		o.state.Handlers.Notify(NewNotifyTriggers(name, key))
	})
}

// onFuture is handed to schema.Subscribe; the schema calls it whenever a
// delivery is produced. It reads the current notification triggers right
// away, since they are only valid while Schema.Deliver is running, then hops
// onto the main loop before touching any Operation state.
func (o *SubscriptionOperation) onFuture(future Future) {
	triggers, ok := o.state.Handlers.CurrentNotificationTriggers()
	o.state.Handlers.Defer(func() {
		o.handleFuture(future, triggers, ok)
	})
}

func (o *SubscriptionOperation) handleFuture(future Future, triggers NotifyTriggers, ok bool) {
	if o.Stopped() {
		return
	}

	if !ok {
		return
	}

	o.mu.Lock()
	key := o.key
	assigned := o.keyAssigned
	o.mu.Unlock()
	if !assigned || !triggers.HasSubscriptionKey(key) {
		return
	}

	o.mu.Lock()
	remaining := time.Duration(0)
	if since := time.Since(o.lastDelivery); since < o.interval {
		remaining = o.interval - since
	}
	o.pendingDelivery = future

	armed := o.deliveryTimer != nil && o.deliveryTimer.Armed()
	if !armed {
		if o.deliveryTimer == nil {
			o.deliveryTimer = o.state.Handlers.CreateTimer()
		}
		o.deliveryTimer.Arm(remaining, o.dispatchPendingDelivery)
	}
	o.mu.Unlock()
	// If already armed, the newer future above supersedes the old one:
	// the timer callback reads pendingDelivery fresh when it fires, so the
	// latest write always wins without rescheduling (never starve).
}

// dispatchPendingDelivery fires on the main loop when the delivery timer
// expires. It hands the pending future to the strand, which awaits it and
// emits the DATA frame.
func (o *SubscriptionOperation) dispatchPendingDelivery() {
	if o.Stopped() {
		return
	}

	o.mu.Lock()
	o.lastDelivery = time.Now()
	future := o.pendingDelivery
	o.pendingDelivery = nil
	o.mu.Unlock()

	if future == nil {
		return
	}

	o.onStrand(func() {
		payload, err := future.Get(context.Background())
		o.state.Handlers.Defer(func() {
			if o.Stopped() {
				return
			}
			if err != nil {
				o.sendResolverFailure(err)
				return
			}
			o.state.Handlers.OnReply(NewData(o.id, payload))
			if o.state.FailedPermissionsCheck() {
				o.log.Warn("subscription delivery tripped a failed permission check; stopping", logging.String("operation_id", o.id))
				o.Stop()
			}
		})
	})
}

// Stop marks the operation stopped, cancels any pending delivery, and
// tears the subscription down on the strand: unsubscribes from the schema
// and closes the strand. Once stopped, signals observed through
// RequestState.Observe no longer trigger a notify; each observer goroutine
// keeps running until the stop channel passed to Observe is closed.
func (o *SubscriptionOperation) Stop() {
	if !o.markStopping() {
		return
	}

	o.mu.Lock()
	if o.deliveryTimer != nil {
		o.deliveryTimer.Stop()
	}
	o.pendingDelivery = nil
	key := o.key
	assigned := o.keyAssigned
	o.mu.Unlock()

	close(o.observeStop)

	o.onStrand(func() {
		if assigned {
			o.state.Schema.Unsubscribe(key)
		}
		close(o.strand)
		o.finish()
	})
}
