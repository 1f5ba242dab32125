package controller

import (
	"net/http"
	"net/url"

	"github.com/cassiomorais/onramp/internal/realtime"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StreamController upgrades clients to the live transaction feed.
type StreamController struct {
	hub      *realtime.Hub
	upgrader websocket.Upgrader
}

// NewStreamController accepts upgrades from the given origins. A "*" entry
// allows any origin; requests without an Origin header are always accepted.
func NewStreamController(hub *realtime.Hub, allowedOrigins []string) *StreamController {
	return &StreamController{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// Stream handles GET /transactions/stream.
func (h *StreamController) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	h.hub.Register(conn)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}
