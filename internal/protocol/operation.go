package protocol

import (
	"sync/atomic"

	"github.com/COVESA/graphql-vss-server-libs/internal/logging"
)

// OperationKind distinguishes the two Operation variants. Rather than a
// virtual base class, the two share one struct of common fields and differ
// in their Start/Stop/notify behavior.
type OperationKind int

const (
	KindRegular OperationKind = iota
	KindSubscription
)

// Operation is implemented by RegularOperation and SubscriptionOperation.
type Operation interface {
	ID() string
	Kind() OperationKind
	Start()
	Stop()
	Stopped() bool
}

// core holds the fields shared by both Operation variants.
type core struct {
	id            string
	query         string
	operationName string
	variables     map[string]interface{}
	state         *RequestState
	log           logging.Logger

	stopped atomic.Bool
}

func newCore(id, query, operationName string, variables map[string]interface{}, state *RequestState, log logging.Logger) core {
	return core{
		id:            id,
		query:         query,
		operationName: operationName,
		variables:     variables,
		state:         state,
		log:           log,
	}
}

func (c *core) ID() string     { return c.id }
func (c *core) Stopped() bool  { return c.stopped.Load() }

// markStopping flips the stopped flag and reports whether this call was
// the one that did so (so Stop() logic only runs once).
func (c *core) markStopping() bool {
	return c.stopped.CompareAndSwap(false, true)
}

func (c *core) sendError(message string) {
	if c.state.Handlers.OnReply == nil {
		return
	}
	c.state.Handlers.OnReply(NewError(c.id, message, StatusCode(&InvalidPayloadError{Reason: message})))
}

func (c *core) sendResolverFailure(err error) {
	if c.state.Handlers.OnResolverFailure != nil {
		c.state.Handlers.OnResolverFailure()
	}
	if c.state.Handlers.OnReply == nil {
		return
	}
	wrapped := &ResolverFailureError{Cause: err}
	c.state.Handlers.OnReply(NewError(c.id, wrapped.Error(), StatusCode(err)))
}

func (c *core) finish() {
	c.state.ReleaseSingletons()
}
