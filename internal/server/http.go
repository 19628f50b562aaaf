package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/COVESA/graphql-vss-server-libs/internal/protocol"
)

// httpRequestBody is the POST body for HTTP-mode GraphQL requests.
type httpRequestBody struct {
	Query         string          `json:"query"`
	OperationName string          `json:"operationName,omitempty"`
	Variables     json.RawMessage `json:"variables,omitempty"`
}

const httpSyntheticOperationID = "0"

// HandleHTTP serves a single POST as one synthetic start/stop cycle: the
// body becomes a start(id="0") frame, connection_init runs first against
// the Authorization header, and the first finalizing reply frame (§4.5)
// becomes the HTTP response.
func (s *Server) HandleHTTP(c *gin.Context) {
	var body httpRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, protocol.ErrorPayload{Message: err.Error(), StatusCode: http.StatusBadRequest})
		return
	}

	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")

	id := s.NewConnectionID()

	var (
		once      sync.Once
		done      = make(chan struct{})
		status    = http.StatusInternalServerError
		respBody  []byte
	)

	finalize := func(st int, b []byte) {
		once.Do(func() {
			status = st
			respBody = b
			close(done)
		})
	}

	protoConn := s.AcceptConnection(id, func(int, string) {}, func(env protocol.Envelope) {
		if ok, st, b := httpReplyStatus(env); ok {
			finalize(st, b)
		}
	})
	defer s.RemoveConnection(id)

	initPayload, _ := json.Marshal(protocol.ConnectionInitPayload{Authorization: token})
	protoConn.HandleMessage(mustEnvelope(protocol.TypeConnectionInit, "", initPayload))

	startPayload, _ := json.Marshal(protocol.StartPayload{
		Query:         body.Query,
		OperationName: body.OperationName,
		Variables:     body.Variables,
	})
	protoConn.HandleMessage(mustEnvelope(protocol.TypeStart, httpSyntheticOperationID, startPayload))

	select {
	case <-done:
	case <-c.Request.Context().Done():
		finalize(http.StatusGatewayTimeout, nil)
	case <-time.After(60 * time.Second):
		finalize(http.StatusGatewayTimeout, nil)
	}

	c.Data(status, "application/json", respBody)
}

func mustEnvelope(typ, id string, payload json.RawMessage) []byte {
	b, err := json.Marshal(protocol.Envelope{Type: typ, ID: id, Payload: payload})
	if err != nil {
		panic(err)
	}
	return b
}
