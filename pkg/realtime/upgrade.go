package realtime

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// NewUpgrader builds the HTTP upgrader for browser clients. allowed
// is the origin allowlist; "*" accepts every origin, and requests
// without an Origin header (non-browser clients) always pass.
func NewUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, candidate := range allowed {
				if candidate == "*" || strings.EqualFold(candidate, origin) {
					return true
				}
			}
			return false
		},
	}
}

// Accept upgrades an HTTP request to a wrapped WebSocket connection.
func Accept(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(ws), nil
}
