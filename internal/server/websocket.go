package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/COVESA/graphql-vss-server-libs/internal/logging"
	"github.com/COVESA/graphql-vss-server-libs/internal/protocol"
)

const graphqlWSSubprotocol = "graphql-ws"

// wsMessagesPerSecond and wsMessageBurst bound inbound frames per
// connection. Grounded on the
// teacher's per-connection golang.org/x/time/rate limiter
// (WebSocketRateLimiter.msgLimiters), simplified to one limiter per socket
// since this server has no per-IP/global tiers to enforce.
const (
	wsMessagesPerSecond = 50
	wsMessageBurst       = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
	Subprotocols:    []string{graphqlWSSubprotocol},
}

// HandleWebSocket upgrades the request and runs the graphql-ws protocol
// state machine for the life of the socket.
func (s *Server) HandleWebSocket(c *gin.Context) {
	if !subprotocolOffered(c.Request, graphqlWSSubprotocol) {
		c.Status(http.StatusUpgradeRequired)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", logging.Err(err))
		return
	}

	id := s.NewConnectionID()
	send := make(chan []byte, 32)
	closeOnce := make(chan struct{})

	closeSocket := func(code int, reason string) {
		select {
		case <-closeOnce:
			return
		default:
			close(closeOnce)
		}
		deadline := time.Now().Add(5 * time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = conn.Close()
	}

	protoConn := s.AcceptConnection(id, closeSocket, func(env protocol.Envelope) {
		b, err := json.Marshal(env)
		if err != nil {
			return
		}
		select {
		case send <- b:
		case <-closeOnce:
		}
	})

	go s.wsWriteLoop(conn, send, closeOnce)
	s.wsReadLoop(conn, protoConn, id, closeSocket)
}

func (s *Server) wsReadLoop(conn *websocket.Conn, protoConn *protocol.Connection, id string, closeSocket func(int, string)) {
	limiter := rate.NewLimiter(rate.Limit(wsMessagesPerSecond), wsMessageBurst)

	defer s.RemoveConnection(id)
	defer closeSocket(websocket.CloseNormalClosure, "going away")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !limiter.Allow() {
			continue
		}
		protoConn.HandleMessage(raw)
	}
}

func (s *Server) wsWriteLoop(conn *websocket.Conn, send <-chan []byte, closeOnce <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case b, ok := <-send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closeOnce:
			return
		}
	}
}

func subprotocolOffered(r *http.Request, want string) bool {
	offered := websocket.Subprotocols(r)
	if len(offered) == 0 {
		return true
	}
	for _, p := range offered {
		if p == want {
			return true
		}
	}
	return false
}

