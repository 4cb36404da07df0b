package game

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"go.uber.org/zap"

	"outpost/internal/protocol"
)

func newTestProjectile(t *testing.T) *projectileFeature {
	t.Helper()
	st := newTestStore(t)
	f := newProjectileFeature("TESTROOM", st, zap.NewNop().Sugar())
	if err := st.ApplyMigrations(f.Key(), f.Migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return f
}

func firePayload(t *testing.T, x, y, vx, vy float64, clientID string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(projectileFirePayload{X: x, Y: y, VX: vx, VY: vy, ClientProjectileID: clientID})
	if err != nil {
		t.Fatalf("marshal fire: %v", err)
	}
	return raw
}

func soleProjectile(t *testing.T, f *projectileFeature) *projectileState {
	t.Helper()
	if len(f.projectiles) != 1 {
		t.Fatalf("projectiles = %d, want 1", len(f.projectiles))
	}
	for _, p := range f.projectiles {
		return p
	}
	return nil
}

func TestFireRescalesVelocityDownToCap(t *testing.T) {
	f := newTestProjectile(t)

	out := f.HandleCommand("alice", "fire", firePayload(t, 0, 0, 3000, 4000, ""), 1000)
	if !out.Changed {
		t.Fatalf("fire reported no change")
	}

	p := soleProjectile(t, f)
	speed := math.Hypot(p.vel.X, p.vel.Y)
	if math.Abs(speed-ProjectileMaxSpeed) > 1e-9 {
		t.Fatalf("speed = %v, want cap %v", speed, ProjectileMaxSpeed)
	}
	// Direction preserved: 3:4 ratio.
	if math.Abs(p.vel.X/p.vel.Y-0.75) > 1e-9 {
		t.Fatalf("direction changed: vel = %+v", p.vel)
	}
}

func TestFireUnderCapKeepsVelocity(t *testing.T) {
	f := newTestProjectile(t)
	f.HandleCommand("alice", "fire", firePayload(t, 0, 0, 300, 0, ""), 1000)

	p := soleProjectile(t, f)
	if p.vel.X != 300 || p.vel.Y != 0 {
		t.Fatalf("under-cap velocity altered: %+v", p.vel)
	}
	if p.expiresAt != 1000+projectileTTLMs {
		t.Fatalf("expiresAt = %d, want %d", p.expiresAt, 1000+projectileTTLMs)
	}
}

func TestFireThrottleWindow(t *testing.T) {
	f := newTestProjectile(t)

	f.HandleCommand("alice", "fire", firePayload(t, 0, 0, 100, 0, ""), 1000)
	out := f.HandleCommand("alice", "fire", firePayload(t, 0, 0, 100, 0, ""), 1000+fireMinIntervalMs-1)
	if out.Changed || len(f.projectiles) != 1 {
		t.Fatalf("throttled fire spawned: %d projectiles", len(f.projectiles))
	}

	out = f.HandleCommand("alice", "fire", firePayload(t, 0, 0, 100, 0, ""), 1000+fireMinIntervalMs)
	if !out.Changed || len(f.projectiles) != 2 {
		t.Fatalf("fire at window edge rejected: %d projectiles", len(f.projectiles))
	}
}

func TestFireRejectsNonFiniteAndBadClientID(t *testing.T) {
	f := newTestProjectile(t)

	out := f.HandleCommand("alice", "fire", json.RawMessage(`{"x": "oops", "y": 0, "vx": 0, "vy": 0}`), 1000)
	if out.Changed || len(out.Events) != 1 {
		t.Fatalf("malformed fire accepted: %+v", out)
	}

	out = f.HandleCommand("alice", "fire", firePayload(t, 0, 0, 1, 1, "NOT-VALID"), 1000)
	if out.Changed {
		t.Fatalf("invalid client id accepted")
	}
	if len(f.projectiles) != 0 {
		t.Fatalf("invalid fires stored")
	}
}

func TestProjectileTickAdvancesAndExpires(t *testing.T) {
	f := newTestProjectile(t)
	f.HandleCommand("alice", "fire", firePayload(t, 0, 0, ProjectileMaxSpeed, 0, ""), 1000)

	f.Tick(&TickContext{Tick: 1, Dt: SimDtSeconds, NowMs: 1100})
	p := soleProjectile(t, f)
	want := ProjectileMaxSpeed * SimDtSeconds
	if math.Abs(p.pos.X-want) > 1e-9 {
		t.Fatalf("x after one step = %v, want %v", p.pos.X, want)
	}

	// TTL reached: the projectile is removed on the next tick.
	f.Tick(&TickContext{Tick: 2, Dt: SimDtSeconds, NowMs: 1000 + projectileTTLMs})
	if len(f.projectiles) != 0 {
		t.Fatalf("expired projectile survived: %d live", len(f.projectiles))
	}
}

func TestProjectileCapacityEvictsLeastRecentlyUpdated(t *testing.T) {
	f := newTestProjectile(t)
	for i := 0; i < maxProjectiles; i++ {
		id := fmt.Sprintf("p_%04d", i)
		f.projectiles[id] = &projectileState{
			id:        id,
			ownerID:   "alice",
			updatedAt: int64(i),
			expiresAt: math.MaxInt64,
		}
	}

	out := f.HandleCommand("bob", "fire", firePayload(t, 0, 0, 100, 0, "mine_1"), int64(maxProjectiles)+1000)
	if !out.Changed {
		t.Fatalf("fire at capacity reported no change")
	}
	if len(f.projectiles) != maxProjectiles {
		t.Fatalf("projectiles = %d, want capacity %d", len(f.projectiles), maxProjectiles)
	}
	if _, ok := f.projectiles["p_0000"]; ok {
		t.Fatalf("least-recently-updated projectile not evicted")
	}
}

func TestProjectileExportBoundedMostRecent(t *testing.T) {
	f := newTestProjectile(t)
	for i := 0; i < maxProjectilesPerSnapshot+5; i++ {
		id := fmt.Sprintf("p_%04d", i)
		f.projectiles[id] = &projectileState{id: id, updatedAt: int64(i)}
	}

	view := f.Export().(protocol.ProjectileView)
	if len(view.Projectiles) != maxProjectilesPerSnapshot {
		t.Fatalf("exported = %d, want %d", len(view.Projectiles), maxProjectilesPerSnapshot)
	}
	if view.Count != maxProjectilesPerSnapshot+5 {
		t.Fatalf("count = %d, want %d", view.Count, maxProjectilesPerSnapshot+5)
	}
	if view.Projectiles[0].ID != fmt.Sprintf("p_%04d", maxProjectilesPerSnapshot+4) {
		t.Fatalf("most-recent first violated: %s", view.Projectiles[0].ID)
	}
}

func TestProjectilePersistAcrossRestartKeepsClientID(t *testing.T) {
	st := newTestStore(t)
	log := zap.NewNop().Sugar()
	f := newProjectileFeature("TESTROOM", st, log)
	if err := st.ApplyMigrations(f.Key(), f.Migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f.HandleCommand("alice", "fire", firePayload(t, 10, 20, 100, 0, "shot_1"), 1000)

	fresh := newProjectileFeature("TESTROOM", st, log)
	if err := fresh.load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	p := soleProjectile(t, fresh)
	if p.clientID != "shot_1" || p.ownerID != "alice" || p.pos.X != 10 {
		t.Fatalf("rehydrated projectile = %+v", p)
	}
}
