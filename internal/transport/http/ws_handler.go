package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/proxichat/internal/config"
	"github.com/vovakirdan/proxichat/internal/core"
)

// WSHandler authorizes chat connections, upgrades them and hands them to the chat service.
type WSHandler struct {
	chats          *core.Service
	originPatterns []string
	readLimit      int64
	log            *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(chats *core.Service, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		chats:          chats,
		originPatterns: cfg.OriginPatterns,
		readLimit:      cfg.MaxMessageBytes,
		log:            logger,
	}
}

// wsChatsPrefix is where the chat endpoint is mounted; the trailing slash after the id is optional.
const wsChatsPrefix = "/ws/chats/"

// ServeHTTP serves GET /ws/chats/{chatID}/?token=<jwt>.
// It is mounted on the plain mux, not gin, so the connection can be hijacked.
// Refusals happen before the upgrade and carry nothing but the status code.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDFromPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	sess, err := h.chats.Open(ctx, chatID, r.URL.Query().Get("token"), r.RemoteAddr)
	if err != nil {
		if errors.Is(err, core.ErrShutdown) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.originPatterns,
		InsecureSkipVerify: len(h.originPatterns) == 0,
	})
	if err != nil {
		h.chats.Close(sess)
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	err = h.chats.Serve(ctx, sess, &wsTransport{conn: conn, log: h.log})

	status, reason := closeStatus(err)
	if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
		h.log.Warn().Err(err).Str("session_id", sess.ID).Msg("ws connection closed with error")
	}
	_ = conn.Close(status, reason)
}

func chatIDFromPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, wsChatsPrefix)
	if !ok {
		return "", false
	}
	chatID := strings.TrimSuffix(rest, "/")
	return chatID, chatIDPattern.MatchString(chatID)
}

// closeStatus maps the reason a session ended to the close frame sent to the client.
func closeStatus(err error) (websocket.StatusCode, string) {
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
		return websocket.StatusNormalClosure, "closing"
	case websocket.CloseStatus(err) != -1:
		// The peer closed; echo its status.
		return websocket.CloseStatus(err), ""
	case errors.Is(err, core.ErrShutdown):
		return websocket.StatusGoingAway, "server shutting down"
	case errors.Is(err, core.ErrDelivery):
		return websocket.StatusTryAgainLater, "delivery failure"
	default:
		return websocket.StatusInternalError, "internal error"
	}
}

// wsTransport adapts a WebSocket connection to core.Transport.
type wsTransport struct {
	conn *websocket.Conn
	log  *zerolog.Logger
}

// Read returns the next text frame. Binary frames are skipped.
func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := t.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ != websocket.MessageText {
			t.log.Warn().Msg("binary frame dropped")
			continue
		}
		return data, nil
	}
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}
