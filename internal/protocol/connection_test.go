package protocol

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/COVESA/graphql-vss-server-libs/internal/permissions"
	"github.com/COVESA/graphql-vss-server-libs/internal/singleton"
)

type stubAuthorizer struct {
	perms *permissions.Set
	err   error
}

func (s *stubAuthorizer) Authorize(token string) (*permissions.Set, error) {
	return s.perms, s.err
}

func newTestConnection(t *testing.T, authz Authorizer, sch Schema) (*Connection, *recordingReplies) {
	t.Helper()
	replies := &recordingReplies{}
	handlers, _, _ := syncHandlers(replies)
	conn := NewConnection("conn-1", authz, sch, singleton.NewStorage(), handlers, noopLogger())
	return conn, replies
}

func TestConnection_ConnectionInitAck(t *testing.T) {
	conn, replies := newTestConnection(t, &stubAuthorizer{perms: permissions.Empty}, &funcSchema{})

	env, _ := json.Marshal(Envelope{Type: TypeConnectionInit})
	conn.HandleMessage(env)

	envs := replies.all()
	require.Len(t, envs, 1)
	assert.Equal(t, TypeConnectionAck, envs[0].Type)
}

// P10 / invalid-token prefix: a failing authorizer surfaces as
// connection_error with statusCode 401 when the message carries the
// "Token error: " prefix.
func TestConnection_ConnectionInitBadToken(t *testing.T) {
	conn, replies := newTestConnection(t, &stubAuthorizer{err: &InvalidTokenError{Reason: "malformed"}}, &funcSchema{})

	payload, _ := json.Marshal(ConnectionInitPayload{Authorization: "not-a-jwt"})
	env, _ := json.Marshal(Envelope{Type: TypeConnectionInit, Payload: payload})
	conn.HandleMessage(env)

	envs := replies.all()
	require.Len(t, envs, 1)
	assert.Equal(t, TypeConnectionError, envs[0].Type)

	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(envs[0].Payload, &errPayload))
	assert.Equal(t, 401, errPayload.StatusCode)
	assert.Contains(t, errPayload.Message, "Token error: ")
}

// P9: a start with an id already in the operations map is a silent no-op.
func TestConnection_DuplicateStartIsNoOp(t *testing.T) {
	started := make(chan struct{}, 4)
	schema := &funcSchema{
		resolve: func(ctx context.Context, state *RequestState, query, opName string, vars map[string]interface{}) (DataPayload, error) {
			started <- struct{}{}
			data, _ := json.Marshal(map[string]int{"ok": 1})
			return DataPayload{Data: data}, nil
		},
	}
	conn, replies := newTestConnection(t, &stubAuthorizer{perms: permissions.Empty}, schema)

	startPayload, _ := json.Marshal(StartPayload{Query: "query { ok }"})
	startEnv, _ := json.Marshal(Envelope{Type: TypeStart, ID: "op-1", Payload: startPayload})

	conn.HandleMessage(startEnv)
	conn.HandleMessage(startEnv)

	assert.Len(t, started, 1)
	// One data + one complete frame from the single operation that ran.
	assert.Len(t, replies.all(), 2)
}

func TestConnection_StopUnknownIDIsIgnored(t *testing.T) {
	conn, replies := newTestConnection(t, &stubAuthorizer{perms: permissions.Empty}, &funcSchema{})

	stopEnv, _ := json.Marshal(Envelope{Type: TypeStop, ID: "nonexistent"})
	conn.HandleMessage(stopEnv)

	assert.Empty(t, replies.all())
}

// Breaking the Connection<->Server reference cycle: TearDown clears
// Handlers to their zero value.
func TestConnection_TearDownClearsHandlers(t *testing.T) {
	conn, _ := newTestConnection(t, &stubAuthorizer{perms: permissions.Empty}, &funcSchema{})

	conn.TearDown()

	conn.mu.Lock()
	isZero := conn.handlers.IsZero()
	conn.mu.Unlock()
	assert.True(t, isZero)

	// A second TearDown is a no-op, not a panic.
	conn.TearDown()
}

func TestConnection_StartAfterTearDownIsIgnored(t *testing.T) {
	conn, replies := newTestConnection(t, &stubAuthorizer{perms: permissions.Empty}, &funcSchema{
		resolve: func(ctx context.Context, state *RequestState, query, opName string, vars map[string]interface{}) (DataPayload, error) {
			t.Fatal("resolver should not run after tearDown")
			return DataPayload{}, nil
		},
	})

	conn.TearDown()

	startPayload, _ := json.Marshal(StartPayload{Query: "query { ok }"})
	startEnv, _ := json.Marshal(Envelope{Type: TypeStart, ID: "op-1", Payload: startPayload})
	conn.HandleMessage(startEnv)

	assert.Empty(t, replies.all())
}
