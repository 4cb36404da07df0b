package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"outpost/internal/game"
	"outpost/internal/protocol"
)

const (
	maxRoomCodeLen = 24
	minPlayerIDLen = 3
	maxPlayerIDLen = 120

	readLimitBytes = protocol.MaxEnvelopeBytes + 1024
	readDeadline   = 60 * time.Second
	writeDeadline  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// normalizeRoomCode upper-cases and validates a room code token:
// 1..24 chars of alphanumerics, dash, underscore.
func normalizeRoomCode(raw string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" || len(code) > maxRoomCodeLen {
		return "", false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '-' && c != '_' {
			return "", false
		}
	}
	return code, true
}

func validPlayerID(id string) bool {
	if len(id) < minPlayerIDLen || len(id) > maxPlayerIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '-' && c != '_' {
			return false
		}
	}
	return true
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// serveWS is the room connection entry point: /ws/{roomCode}. The
// request must signal a websocket upgrade and carry either a valid
// player id or a redeemable resume token.
func serveWS(hub *game.Hub, log *zap.SugaredLogger, w http.ResponseWriter, r *http.Request) {
	roomCode, ok := normalizeRoomCode(strings.TrimPrefix(r.URL.Path, "/ws/"))
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid room code")
		return
	}
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		jsonError(w, http.StatusUpgradeRequired, "WebSocket upgrade required")
		return
	}

	query := r.URL.Query()
	playerID := query.Get("player")
	resumeHint := query.Get("resume")

	now := time.Now()
	if playerID == "" && resumeHint != "" {
		if resumed, found, err := hub.Store().RedeemResumeToken(roomCode, resumeHint, now); err == nil && found {
			playerID = resumed
		}
	}
	if !validPlayerID(playerID) {
		jsonError(w, http.StatusUnauthorized, "missing or invalid player id")
		return
	}

	room, err := hub.GetRoom(roomCode)
	if err != nil {
		log.Errorw("room bootstrap failed", "room", roomCode, "err", err)
		jsonError(w, http.StatusInternalServerError, "room unavailable")
		return
	}

	resumeToken := uuid.NewString()
	if err := hub.Store().SaveResumeToken(roomCode, playerID, resumeToken, now); err != nil {
		log.Warnw("resume token save failed", "room", roomCode, "player", playerID, "err", err)
		resumeToken = ""
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("upgrade failed", "room", roomCode, "err", err)
		return
	}

	sess := room.Connect(playerID, resumeToken)
	go writePump(conn, sess)
	go readPump(conn, room, sess)
}

// writePump drains the session's outbound queue onto the socket. A
// write failure only ends this session; the room keeps enqueueing (and
// dropping) until the read side tears the session down.
func writePump(conn *websocket.Conn, sess *game.Session) {
	defer conn.Close()
	for frame := range sess.Outbound() {
		_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

// readPump feeds inbound frames into the room until the socket closes
// or errors, then removes the session.
func readPump(conn *websocket.Conn, room *game.Room, sess *game.Session) {
	defer conn.Close()
	defer room.Disconnect(sess)

	conn.SetReadLimit(readLimitBytes)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		if msgType != websocket.TextMessage {
			continue
		}
		room.HandleMessage(sess, raw)
	}
}
