package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// HandleWebSocket streams domain event names to the client as they are
// published. Payload-less on purpose: subscribers re-read state over HTTP.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	sub := h.Bus.Subscribe(16)
	done := make(chan struct{})

	// Drain reads to detect disconnection.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.Bus.Unsubscribe(sub)
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteJSON(map[string]string{"event": string(event)}); err != nil {
				return
			}
		}
	}
}
