package server

import (
	"encoding/json"

	"github.com/COVESA/graphql-vss-server-libs/internal/protocol"
)

// httpReplyStatus implements the §4.5 HTTP reply-finalization table: it
// inspects one reply frame and decides whether it finalizes the HTTP
// response, and if so with what status and body. COMPLETE never
// finalizes on its own (the preceding DATA already did, or an error
// frame did) since HTTP is one-shot.
func httpReplyStatus(env protocol.Envelope) (finalize bool, status int, body []byte) {
	switch env.Type {
	case protocol.TypeData:
		var payload protocol.DataPayload
		_ = json.Unmarshal(env.Payload, &payload)
		if len(payload.Data) > 0 {
			return true, 200, env.Payload
		}
		return true, 400, env.Payload

	case protocol.TypeError, protocol.TypeConnectionError:
		var payload protocol.ErrorPayload
		_ = json.Unmarshal(env.Payload, &payload)
		status := payload.StatusCode
		if status == 0 {
			status = 400
		}
		return true, status, env.Payload

	case protocol.TypeComplete:
		return false, 0, nil

	default:
		return false, 0, nil
	}
}
