package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"outpost/internal/game"
)

// newMux wires the two public endpoints: the liveness probe and the
// room websocket entry point.
func newMux(hub *game.Hub, log *zap.SugaredLogger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":   true,
			"time": time.Now().UnixMilli(),
		})
	})

	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimPrefix(r.URL.Path, "/ws/") == "" {
			jsonError(w, http.StatusBadRequest, "room code required")
			return
		}
		serveWS(hub, log, w, r)
	})

	return mux
}
