package protocol

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/COVESA/graphql-vss-server-libs/internal/logging"
	"github.com/COVESA/graphql-vss-server-libs/internal/permissions"
	"github.com/COVESA/graphql-vss-server-libs/internal/singleton"
)

// Connection implements the graphql-ws (legacy subscriptions-transport-ws)
// protocol state machine for one socket. Handlers is supplied by the
// Server at construction and closes over it; TearDown clears Handlers to
// break that cycle (see Handlers' doc comment for why a single assignment
// suffices here instead of clearing several captured closures).
type Connection struct {
	id         string
	authorizer Authorizer
	schema     Schema
	storage    *singleton.Storage
	log        logging.Logger

	mu          sync.Mutex
	handlers    Handlers
	permissions *permissions.Set // nil until connection_init runs
	operations  map[string]Operation
	torn        bool
}

// NewConnection builds a Connection bound to one socket. handlers is the
// bundle the Server hands out for this specific connection.
func NewConnection(id string, authorizer Authorizer, schema Schema, storage *singleton.Storage, handlers Handlers, log logging.Logger) *Connection {
	return &Connection{
		id:         id,
		authorizer: authorizer,
		schema:     schema,
		storage:    storage,
		handlers:   handlers,
		operations: make(map[string]Operation),
		log:        log,
	}
}

func (c *Connection) ID() string { return c.id }

// HandleMessage dispatches one inbound frame. Any error surfaces as a
// connection_error (no id context) or error (id known) frame; it never
// propagates to the caller.
func (c *Connection) HandleMessage(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.replyConnectionError(&InvalidPayloadError{Reason: err.Error()})
		return
	}

	switch env.Type {
	case TypeConnectionInit:
		c.handleConnectionInit(env)
	case TypeStart:
		c.handleStart(env)
	case TypeStop:
		c.handleStop(env)
	case TypeConnectionTerminate:
		c.handleTerminate()
	default:
		c.replyConnectionError(&InvalidPayloadError{Reason: fmt.Sprintf("unknown message type %q", env.Type)})
	}
}

func (c *Connection) handleConnectionInit(env Envelope) {
	var payload ConnectionInitPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.replyConnectionError(&InvalidPayloadError{Reason: err.Error()})
			return
		}
	}

	perms, err := c.authorizer.Authorize(payload.Authorization)
	if err != nil {
		c.replyConnectionError(err)
		return
	}

	c.mu.Lock()
	c.permissions = perms
	c.mu.Unlock()

	c.reply(NewAck())
}

func (c *Connection) handleStart(env Envelope) {
	if env.ID == "" {
		c.replyConnectionError(&InvalidPayloadError{Reason: "start requires an id"})
		return
	}

	var payload StartPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		c.replyError(env.ID, &InvalidPayloadError{Reason: err.Error()})
		return
	}
	if payload.Query == "" {
		c.replyError(env.ID, &InvalidPayloadError{Reason: "query must not be empty"})
		return
	}

	c.mu.Lock()
	if _, exists := c.operations[env.ID]; exists {
		// P9: duplicate start is a silent no-op.
		c.mu.Unlock()
		return
	}
	if c.torn {
		c.mu.Unlock()
		return
	}
	handlers := c.handlers
	perms := c.permissions
	c.mu.Unlock()

	doc, err := ParseDocument(payload.Query)
	if err != nil {
		c.replyError(env.ID, err)
		return
	}

	var variables map[string]interface{}
	if len(payload.Variables) > 0 {
		if err := json.Unmarshal(payload.Variables, &variables); err != nil {
			c.replyError(env.ID, &InvalidPayloadError{Reason: err.Error()})
			return
		}
	}

	isSubscription := DetectKind(doc) == KindSubscription
	state := NewRequestState(handlers, c.schema, perms, c.storage, isSubscription)

	var op Operation
	if isSubscription {
		op = NewSubscriptionOperation(env.ID, payload.Query, payload.OperationName, variables, state, doc, c.log)
	} else {
		op = NewRegularOperation(env.ID, payload.Query, payload.OperationName, variables, state, c.log)
	}

	c.mu.Lock()
	if _, exists := c.operations[env.ID]; exists {
		c.mu.Unlock()
		return
	}
	if c.torn {
		c.mu.Unlock()
		return
	}
	c.operations[env.ID] = op
	onStarted := c.handlers.OnOperationStarted
	c.mu.Unlock()

	if onStarted != nil {
		onStarted()
	}

	op.Start()
}

func (c *Connection) handleStop(env Envelope) {
	c.mu.Lock()
	op, ok := c.operations[env.ID]
	if ok {
		delete(c.operations, env.ID)
	}
	onStopped := c.handlers.OnOperationStopped
	c.mu.Unlock()

	if !ok {
		return
	}
	if onStopped != nil {
		onStopped()
	}
	op.Stop()
}

func (c *Connection) handleTerminate() {
	c.mu.Lock()
	if c.torn {
		c.mu.Unlock()
		return
	}
	terminate := c.handlers.Terminate
	c.mu.Unlock()

	if terminate != nil {
		terminate()
	}
}

// TearDown stops every live operation and clears Handlers, breaking the
// reference cycle back to the Server. A second TearDown is a no-op.
func (c *Connection) TearDown() {
	c.mu.Lock()
	if c.torn {
		c.mu.Unlock()
		return
	}
	c.torn = true
	ops := c.operations
	c.operations = make(map[string]Operation)
	onStopped := c.handlers.OnOperationStopped
	c.handlers = Handlers{}
	c.mu.Unlock()

	for _, op := range ops {
		if onStopped != nil {
			onStopped()
		}
		op.Stop()
	}
}

func (c *Connection) reply(env Envelope) {
	c.mu.Lock()
	onReply := c.handlers.OnReply
	c.mu.Unlock()
	if onReply != nil {
		onReply(env)
	}
}

func (c *Connection) replyConnectionError(err error) {
	c.reply(NewConnectionError(err.Error(), StatusCode(err)))
}

func (c *Connection) replyError(id string, err error) {
	c.reply(NewError(id, err.Error(), StatusCode(err)))
}
