package web

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/wavecast-audio/wavecast/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type wsEnvelope struct {
	Subject string          `json:"subject"`
	Event   json.RawMessage `json:"event"`
}

// handleEvents streams the station's bus traffic to a websocket client:
// synthesis lifecycle, source changes, and listener churn, as they
// happen. One subscription per socket; a dead client just drops off.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil || h.bus.Conn() == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus unavailable")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	msgs := make(chan *nats.Msg, 64)
	sub, err := h.bus.Conn().ChanSubscribe(protocol.SubjectStationAll, msgs)
	if err != nil {
		h.log.Warn("event subscription failed", slog.String("error", err.Error()))
		return
	}
	defer sub.Unsubscribe()

	// Reader goroutine only notices close/error; clients don't send.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.log.Debug("event stream attached", slog.String("remote", r.RemoteAddr))
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case msg := <-msgs:
			env := wsEnvelope{Subject: msg.Subject, Event: msg.Data}
			if err := conn.WriteJSON(env); err != nil {
				h.log.Debug("event stream client dropped", slog.String("error", err.Error()))
				return
			}
		}
	}
}
