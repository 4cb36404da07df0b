package game

import (
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"outpost/internal/protocol"
	"outpost/internal/store"
)

// presenceFeature tracks which player ids are online and when they were
// last seen. It has no tick behavior; connects and disconnects are its
// only state transitions.
type presenceFeature struct {
	room string
	st   *store.Store
	log  *zap.SugaredLogger

	online   map[string]bool
	lastSeen map[string]int64
}

func newPresenceFeature(room string, st *store.Store, log *zap.SugaredLogger) *presenceFeature {
	return &presenceFeature{
		room:     room,
		st:       st,
		log:      log,
		online:   make(map[string]bool),
		lastSeen: make(map[string]int64),
	}
}

func (f *presenceFeature) Key() string { return protocol.FeaturePresence }

func (f *presenceFeature) Migrations() []store.Migration {
	return []store.Migration{
		{ID: "001_create_presence_players", Statements: []string{
			`CREATE TABLE IF NOT EXISTS presence_players (
				room TEXT NOT NULL,
				player_id TEXT NOT NULL,
				online INTEGER NOT NULL,
				last_seen INTEGER NOT NULL,
				PRIMARY KEY (room, player_id)
			)`,
		}},
	}
}

func (f *presenceFeature) load() error {
	rows, err := f.st.LoadPresence(f.room)
	if err != nil {
		return err
	}
	for _, r := range rows {
		// Nobody is connected at cold start regardless of what the last
		// process recorded.
		f.online[r.PlayerID] = false
		f.lastSeen[r.PlayerID] = r.LastSeen
	}
	return nil
}

func (f *presenceFeature) Connect(playerID string, nowMs int64) {
	f.online[playerID] = true
	f.lastSeen[playerID] = nowMs
	f.persist(playerID, nowMs)
}

func (f *presenceFeature) Disconnect(playerID string, nowMs int64) {
	f.online[playerID] = false
	f.lastSeen[playerID] = nowMs
	f.persist(playerID, nowMs)
}

func (f *presenceFeature) persist(playerID string, nowMs int64) {
	err := f.st.UpsertPresence(f.room, store.PresenceRow{
		PlayerID: playerID,
		Online:   f.online[playerID],
		LastSeen: nowMs,
	})
	if err != nil {
		f.log.Warnw("presence persist failed", "room", f.room, "player", playerID, "err", err)
	}
}

func (f *presenceFeature) HandleCommand(playerID, action string, payload json.RawMessage, nowMs int64) Outcome {
	return invalidAction(f.Key(), action)
}

func (f *presenceFeature) Tick(ctx *TickContext) Outcome { return Outcome{} }

func (f *presenceFeature) Export() any {
	ids := make([]string, 0, len(f.online))
	for id, on := range f.online {
		if on {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	players := make([]protocol.PresenceEntry, 0, len(ids))
	for _, id := range ids {
		players = append(players, protocol.PresenceEntry{PlayerID: id, LastSeen: f.lastSeen[id]})
	}
	return protocol.PresenceView{Players: players, Count: len(players)}
}
