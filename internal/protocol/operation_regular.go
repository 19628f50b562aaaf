package protocol

import (
	"context"

	"github.com/COVESA/graphql-vss-server-libs/internal/logging"
)

// RegularOperation implements the one-shot query/mutation lifecycle:
// Created -> Running -> Stopped(Completed | Cancelled | Failed).
type RegularOperation struct {
	core
}

// NewRegularOperation builds a one-shot operation. query has already been
// validated as non-empty by the Connection.
func NewRegularOperation(id, query, operationName string, variables map[string]interface{}, state *RequestState, log logging.Logger) *RegularOperation {
	return &RegularOperation{core: newCore(id, query, operationName, variables, state, log)}
}

func (o *RegularOperation) Kind() OperationKind { return KindRegular }

// Start enqueues one resolver task on the worker pool. The resolver runs
// off the main loop; the reply is posted back via Defer so that frame
// delivery to the connection stays main-loop-ordered.
func (o *RegularOperation) Start() {
	o.state.Handlers.OffloadWork(func() {
		payload, err := o.state.Schema.Resolve(context.Background(), o.state, o.query, o.operationName, o.variables)

		o.state.Handlers.Defer(func() {
			if o.Stopped() {
				// A late result after stop(): discard, no frame.
				return
			}

			if err != nil {
				o.sendResolverFailure(err)
				o.markStopping()
				o.finish()
				return
			}

			if o.state.FailedPermissionsCheck() {
				o.log.Warn("resolver completed with a failed permission check", logging.String("operation_id", o.id))
			}

			o.state.Handlers.OnReply(NewData(o.id, payload))
			o.state.Handlers.OnReply(NewComplete(o.id))
			o.markStopping()
			o.finish()
		})
	})
}

// Stop marks the operation stopped. A result that arrives afterward is
// dropped without sending any frame.
func (o *RegularOperation) Stop() {
	o.markStopping()
	o.finish()
}
