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

// projectileFeature owns live projectiles: fire commands spawn them with
// a server-generated id and a hard TTL, ticks advance them through the
// sim kernel, and a fixed capacity evicts the least-recently-updated
// rows first.
type projectileFeature struct {
	room string
	st   *store.Store
	log  *zap.SugaredLogger

	projectiles      map[string]*projectileState
	lastFireMs       map[string]int64
	lastCheckpointMs int64
}

type projectileState struct {
	id        string
	ownerID   string
	pos       sim.Vec2
	vel       sim.Vec2
	expiresAt int64
	updatedAt int64
	clientID  string
}

type projectileFirePayload struct {
	X                  float64 `json:"x"`
	Y                  float64 `json:"y"`
	VX                 float64 `json:"vx"`
	VY                 float64 `json:"vy"`
	ClientProjectileID string  `json:"clientProjectileId,omitempty"`
}

func newProjectileFeature(room string, st *store.Store, log *zap.SugaredLogger) *projectileFeature {
	return &projectileFeature{
		room:        room,
		st:          st,
		log:         log,
		projectiles: make(map[string]*projectileState),
		lastFireMs:  make(map[string]int64),
	}
}

func (f *projectileFeature) Key() string { return protocol.FeatureProjectile }

func (f *projectileFeature) Migrations() []store.Migration {
	return []store.Migration{
		{ID: "001_create_projectile_state", Statements: []string{
			`CREATE TABLE IF NOT EXISTS projectile_state (
				room TEXT NOT NULL,
				id TEXT NOT NULL,
				owner_id TEXT NOT NULL,
				x REAL NOT NULL,
				y REAL NOT NULL,
				vx REAL NOT NULL,
				vy REAL NOT NULL,
				expires_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (room, id)
			)`,
		}},
		// Correlation ids arrived after the table did; older databases
		// hit the duplicate-column idempotency path here.
		{ID: "002_add_client_projectile_id", Statements: []string{
			`ALTER TABLE projectile_state ADD COLUMN client_projectile_id TEXT`,
		}},
	}
}

func (f *projectileFeature) load() error {
	rows, err := f.st.LoadProjectiles(f.room)
	if err != nil {
		return err
	}
	for _, r := range rows {
		f.projectiles[r.ID] = &projectileState{
			id:        r.ID,
			ownerID:   r.OwnerID,
			pos:       sim.Vec2{X: r.X, Y: r.Y},
			vel:       sim.Vec2{X: r.VX, Y: r.VY},
			expiresAt: r.ExpiresAt,
			updatedAt: r.UpdatedAt,
			clientID:  r.ClientID,
		}
	}
	return nil
}

func (f *projectileFeature) Connect(playerID string, nowMs int64)    {}
func (f *projectileFeature) Disconnect(playerID string, nowMs int64) {}

func (f *projectileFeature) HandleCommand(playerID, action string, payload json.RawMessage, nowMs int64) Outcome {
	if action != "fire" {
		return invalidAction(f.Key(), action)
	}
	var fire projectileFirePayload
	if payload == nil || json.Unmarshal(payload, &fire) != nil {
		return invalidPayload(f.Key(), "invalid projectile payload")
	}
	for _, v := range []float64{fire.X, fire.Y, fire.VX, fire.VY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalidPayload(f.Key(), "invalid projectile payload")
		}
	}
	if fire.ClientProjectileID != "" && !protocol.ValidIdentifier(fire.ClientProjectileID) {
		return invalidPayload(f.Key(), "invalid projectile client id")
	}

	if nowMs-f.lastFireMs[playerID] < fireMinIntervalMs {
		return Outcome{}
	}
	f.lastFireMs[playerID] = nowMs

	vel := sim.ClampSpeed(sim.Vec2{X: fire.VX, Y: fire.VY}, ProjectileMaxSpeed)
	p := &projectileState{
		id:        "proj_" + uuid.NewString(),
		ownerID:   playerID,
		pos:       sim.Vec2{X: sim.ClampAxis(fire.X, ProjectileMapLimit), Y: sim.ClampAxis(fire.Y, ProjectileMapLimit)},
		vel:       vel,
		expiresAt: nowMs + projectileTTLMs,
		updatedAt: nowMs,
		clientID:  fire.ClientProjectileID,
	}
	f.projectiles[p.id] = p
	f.persist(p)
	f.evictOverflow()

	return Outcome{Changed: true}
}

// evictOverflow removes the least-recently-updated projectiles beyond
// capacity.
func (f *projectileFeature) evictOverflow() {
	for len(f.projectiles) > maxProjectiles {
		oldestID := ""
		oldestAt := int64(math.MaxInt64)
		for id, p := range f.projectiles {
			if p.updatedAt < oldestAt || (p.updatedAt == oldestAt && id < oldestID) {
				oldestID = id
				oldestAt = p.updatedAt
			}
		}
		delete(f.projectiles, oldestID)
		if err := f.st.DeleteProjectile(f.room, oldestID); err != nil {
			f.log.Warnw("projectile evict failed", "room", f.room, "id", oldestID, "err", err)
		}
	}
}

func (f *projectileFeature) Tick(ctx *TickContext) Outcome {
	if len(f.projectiles) == 0 {
		return Outcome{}
	}
	for id, p := range f.projectiles {
		if p.expiresAt <= ctx.NowMs {
			delete(f.projectiles, id)
			if err := f.st.DeleteProjectile(f.room, id); err != nil {
				f.log.Warnw("projectile delete failed", "room", f.room, "id", id, "err", err)
			}
			continue
		}
		p.pos = sim.ProjectileIntegrate(p.pos, p.vel, ctx.Dt, ProjectileMapLimit)
		p.updatedAt = ctx.NowMs
	}

	if ctx.NowMs-f.lastCheckpointMs >= checkpointIntervalMs {
		f.lastCheckpointMs = ctx.NowMs
		for _, p := range f.projectiles {
			f.persist(p)
		}
	}
	return Outcome{Changed: true}
}

func (f *projectileFeature) persist(p *projectileState) {
	err := f.st.UpsertProjectile(f.room, store.ProjectileRow{
		ID:        p.id,
		OwnerID:   p.ownerID,
		X:         p.pos.X,
		Y:         p.pos.Y,
		VX:        p.vel.X,
		VY:        p.vel.Y,
		ExpiresAt: p.expiresAt,
		ClientID:  p.clientID,
		UpdatedAt: p.updatedAt,
	})
	if err != nil {
		f.log.Warnw("projectile persist failed", "room", f.room, "id", p.id, "err", err)
	}
}

// Export returns the most recently updated live projectiles, bounded for
// snapshot size.
func (f *projectileFeature) Export() any {
	all := make([]*projectileState, 0, len(f.projectiles))
	for _, p := range f.projectiles {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].updatedAt != all[j].updatedAt {
			return all[i].updatedAt > all[j].updatedAt
		}
		return all[i].id < all[j].id
	})
	if len(all) > maxProjectilesPerSnapshot {
		all = all[:maxProjectilesPerSnapshot]
	}
	entries := make([]protocol.ProjectileEntry, 0, len(all))
	for _, p := range all {
		entries = append(entries, protocol.ProjectileEntry{
			ID:        p.id,
			OwnerID:   p.ownerID,
			X:         p.pos.X,
			Y:         p.pos.Y,
			VX:        p.vel.X,
			VY:        p.vel.Y,
			ClientID:  p.clientID,
			ExpiresAt: p.expiresAt,
		})
	}
	return protocol.ProjectileView{Projectiles: entries, Count: len(f.projectiles)}
}
