package game

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"outpost/internal/protocol"
	"outpost/internal/sim"
	"outpost/internal/store"
)

// buildFeature manages placed structures. Placement is deduplicated by
// id (clients may suggest one for local prediction); removal is
// deliberately owner-agnostic: the room owns its structures and any
// player may delete any of them.
type buildFeature struct {
	room string
	st   *store.Store
	log  *zap.SugaredLogger

	structures  map[string]*structureState
	lastPlaceMs map[string]int64
}

type structureState struct {
	id        string
	ownerID   string
	kind      string
	x, y      float64
	createdAt int64
}

var structureKinds = map[string]bool{
	"beacon":    true,
	"miner":     true,
	"assembler": true,
}

type buildPlacePayload struct {
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Kind          string  `json:"kind"`
	ClientBuildID string  `json:"clientBuildId,omitempty"`
}

type buildRemovePayload struct {
	ID string `json:"id"`
}

func newBuildFeature(room string, st *store.Store, log *zap.SugaredLogger) *buildFeature {
	return &buildFeature{
		room:        room,
		st:          st,
		log:         log,
		structures:  make(map[string]*structureState),
		lastPlaceMs: make(map[string]int64),
	}
}

func (f *buildFeature) Key() string { return protocol.FeatureBuild }

func (f *buildFeature) Migrations() []store.Migration {
	return []store.Migration{
		{ID: "001_create_build_structures", Statements: []string{
			`CREATE TABLE IF NOT EXISTS build_structures (
				room TEXT NOT NULL,
				id TEXT NOT NULL,
				owner_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				x REAL NOT NULL,
				y REAL NOT NULL,
				created_at INTEGER NOT NULL,
				PRIMARY KEY (room, id)
			)`,
		}},
	}
}

func (f *buildFeature) load() error {
	rows, err := f.st.LoadStructures(f.room)
	if err != nil {
		return err
	}
	for _, r := range rows {
		f.structures[r.ID] = &structureState{
			id: r.ID, ownerID: r.OwnerID, kind: r.Kind,
			x: r.X, y: r.Y, createdAt: r.CreatedAt,
		}
	}
	return nil
}

func (f *buildFeature) Connect(playerID string, nowMs int64)    {}
func (f *buildFeature) Disconnect(playerID string, nowMs int64) {}

func (f *buildFeature) HandleCommand(playerID, action string, payload json.RawMessage, nowMs int64) Outcome {
	switch action {
	case "place":
		return f.handlePlace(playerID, payload, nowMs)
	case "remove":
		return f.handleRemove(payload)
	default:
		return invalidAction(f.Key(), action)
	}
}

func (f *buildFeature) handlePlace(playerID string, payload json.RawMessage, nowMs int64) Outcome {
	var place buildPlacePayload
	if payload == nil || json.Unmarshal(payload, &place) != nil {
		return invalidPayload(f.Key(), "invalid build payload")
	}
	if math.IsNaN(place.X) || math.IsInf(place.X, 0) || math.IsNaN(place.Y) || math.IsInf(place.Y, 0) {
		return invalidPayload(f.Key(), "invalid build payload")
	}
	if !structureKinds[place.Kind] {
		return invalidPayload(f.Key(), "invalid structure kind")
	}
	if place.ClientBuildID != "" && !protocol.ValidIdentifier(place.ClientBuildID) {
		return invalidPayload(f.Key(), "invalid client build id")
	}

	if nowMs-f.lastPlaceMs[playerID] < placeMinIntervalMs {
		return Outcome{}
	}
	f.lastPlaceMs[playerID] = nowMs

	id := place.ClientBuildID
	if id == "" {
		id = "build_" + uuid.NewString()
	}
	if _, exists := f.structures[id]; exists {
		// Retransmitted placement: insert-or-ignore.
		return Outcome{}
	}

	s := &structureState{
		id:        id,
		ownerID:   playerID,
		kind:      place.Kind,
		x:         sim.ClampAxis(place.X, MovementMapLimit),
		y:         sim.ClampAxis(place.Y, MovementMapLimit),
		createdAt: nowMs,
	}
	f.structures[id] = s
	if _, err := f.st.InsertStructure(f.room, store.StructureRow{
		ID: s.id, OwnerID: s.ownerID, Kind: s.kind, X: s.x, Y: s.y, CreatedAt: s.createdAt,
	}); err != nil {
		f.log.Warnw("structure persist failed", "room", f.room, "id", id, "err", err)
	}
	f.evictOverflow()

	return Outcome{
		Changed: true,
		Events: []Event{{
			Target:  TargetRoom,
			Feature: f.Key(),
			Action:  "placed",
			Payload: protocol.StructureEntry{ID: s.id, OwnerID: s.ownerID, Kind: s.kind, X: s.x, Y: s.y},
		}},
	}
}

func (f *buildFeature) handleRemove(payload json.RawMessage) Outcome {
	var remove buildRemovePayload
	if payload == nil || json.Unmarshal(payload, &remove) != nil {
		return invalidPayload(f.Key(), "invalid build payload")
	}
	if remove.ID == "" || len(remove.ID) > protocol.MaxIdentifierLen+len("build_")+36 {
		return invalidPayload(f.Key(), "invalid structure id")
	}

	// No ownership check: room-wide removal authority is intentional.
	delete(f.structures, remove.ID)
	if err := f.st.DeleteStructure(f.room, remove.ID); err != nil {
		f.log.Warnw("structure delete failed", "room", f.room, "id", remove.ID, "err", err)
	}
	return Outcome{Changed: true}
}

// evictOverflow drops the oldest structures beyond capacity.
func (f *buildFeature) evictOverflow() {
	for len(f.structures) > maxStructures {
		oldestID := ""
		oldestAt := int64(math.MaxInt64)
		for id, s := range f.structures {
			if s.createdAt < oldestAt || (s.createdAt == oldestAt && id < oldestID) {
				oldestID = id
				oldestAt = s.createdAt
			}
		}
		delete(f.structures, oldestID)
		if err := f.st.DeleteStructure(f.room, oldestID); err != nil {
			f.log.Warnw("structure evict failed", "room", f.room, "id", oldestID, "err", err)
		}
	}
}

func (f *buildFeature) Tick(ctx *TickContext) Outcome { return Outcome{} }

// Export returns the most recently placed structures, newest first,
// bounded for snapshot size.
func (f *buildFeature) Export() any {
	all := make([]*structureState, 0, len(f.structures))
	for _, s := range f.structures {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].createdAt != all[j].createdAt {
			return all[i].createdAt > all[j].createdAt
		}
		return all[i].id < all[j].id
	})
	if len(all) > maxStructuresPerSnapshot {
		all = all[:maxStructuresPerSnapshot]
	}
	entries := make([]protocol.StructureEntry, 0, len(all))
	for _, s := range all {
		entries = append(entries, protocol.StructureEntry{
			ID: s.id, OwnerID: s.ownerID, Kind: s.kind, X: s.x, Y: s.y,
		})
	}
	return protocol.BuildView{Structures: entries, Count: len(f.structures)}
}
