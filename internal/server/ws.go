package server

import (
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/shayan1083/rbchat-backend/internal/chat"
)

// wsFrame is one outgoing WebSocket message on the query stream.
type wsFrame struct {
	Type string `json:"type"` // "fragment", "rate_limit", or "done"
	Text string `json:"text,omitempty"`
}

// handleWSQuery is the WebSocket variant of /query: the client sends one JSON
// turn request, the server streams fragment frames back and closes after the
// done frame.
func (s *Server) handleWSQuery(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	ctx := r.Context()

	var p turnParams
	if err := wsjson.Read(ctx, conn, &p); err != nil {
		conn.Close(websocket.StatusInvalidFramePayloadData, "invalid turn request")
		return
	}
	if strings.TrimSpace(p.Prompt) == "" {
		conn.Close(websocket.StatusInvalidFramePayloadData, "prompt is required")
		return
	}

	if !s.admit(p.Prompt) {
		_ = wsjson.Write(ctx, conn, wsFrame{Type: "rate_limit", Text: chat.RateLimitFragment})
		_ = wsjson.Write(ctx, conn, wsFrame{Type: "done"})
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	s.turns.Stream(ctx, s.buildTurn(p), func(fragment string) error {
		return wsjson.Write(ctx, conn, wsFrame{Type: "fragment", Text: fragment})
	})
	_ = wsjson.Write(ctx, conn, wsFrame{Type: "done"})
	conn.Close(websocket.StatusNormalClosure, "")
}
