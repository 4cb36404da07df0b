package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"outpost/internal/game"
	"outpost/internal/store"
)

func newTestHub(t *testing.T) *game.Hub {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.ApplyMigrations("core", store.CoreMigrations()); err != nil {
		t.Fatalf("core migrations: %v", err)
	}
	return game.NewHub(st, zap.NewNop().Sugar())
}

func TestNormalizeRoomCode(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"lobby", "LOBBY", true},
		{"Room-42_a", "ROOM-42_A", true},
		{"  abc  ", "ABC", true},
		{"", "", false},
		{"has space", "", false},
		{"emoji🚀", "", false},
		{"waaaaaaaaaaaaaaaaaaaaaaaaytoolong", "", false},
	}
	for _, c := range cases {
		got, ok := normalizeRoomCode(c.in)
		if ok != c.ok || got != c.want {
			t.Fatalf("normalizeRoomCode(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestValidPlayerID(t *testing.T) {
	good := []string{"abc", "Alice-99", "player_one"}
	for _, id := range good {
		if !validPlayerID(id) {
			t.Fatalf("validPlayerID(%q) = false, want true", id)
		}
	}
	long := make([]byte, maxPlayerIDLen+1)
	for i := range long {
		long[i] = 'a'
	}
	bad := []string{"", "ab", "has space", "semi;colon", string(long)}
	for _, id := range bad {
		if validPlayerID(id) {
			t.Fatalf("validPlayerID(%q) = true, want false", id)
		}
	}
}

func TestHealthz(t *testing.T) {
	mux := newMux(newTestHub(t), zap.NewNop().Sugar())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestWSRequiresUpgradeHeader(t *testing.T) {
	mux := newMux(newTestHub(t), zap.NewNop().Sugar())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/LOBBY?player=alice", nil))

	if rec.Code != http.StatusUpgradeRequired {
		t.Fatalf("status = %d, want 426", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("missing error message: %v", body)
	}
}

func TestWSRejectsBadRoomCodeBeforeUpgradeCheck(t *testing.T) {
	mux := newMux(newTestHub(t), zap.NewNop().Sugar())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/bad%20room", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWSRejectsMissingPlayerID(t *testing.T) {
	mux := newMux(newTestHub(t), zap.NewNop().Sugar())
	req := httptest.NewRequest(http.MethodGet, "/ws/LOBBY", nil)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestWSResumeTokenRedeemsPlayerID(t *testing.T) {
	hub := newTestHub(t)
	mux := newMux(hub, zap.NewNop().Sugar())

	// Unknown token falls through to the missing-player-id rejection.
	req := httptest.NewRequest(http.MethodGet, "/ws/LOBBY?resume=nope", nil)
	req.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown token status = %d, want 401", rec.Code)
	}
}
