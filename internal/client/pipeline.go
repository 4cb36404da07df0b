// Package client turns the server's snapshot stream into smooth render
// frames. It consumes the wire format only and never imports the server
// packages, so it can back any Go renderer or headless bot.
package client

import (
	"encoding/json"
	"fmt"
	"sort"

	"outpost/internal/protocol"
)

const (
	// Smoothing factor for the server-minus-client clock offset.
	// First sample is taken directly, then 90% old / 10% new.
	offsetBlend = 0.1

	// Render lags authoritative time so two bracketing snapshots are
	// usually available.
	interpDelayMs = 100

	bufferCapacity = 64
)

// WorldState is one fully merged snapshot: every feature section
// resolved, deltas already folded into the last known full state.
type WorldState struct {
	ServerTick uint64
	ServerTime int64

	Presence    protocol.PresenceView
	Movement    protocol.MovementView
	Build       protocol.BuildView
	Projectiles protocol.ProjectileView
}

// RenderFrame is what the render pump draws: remote entities
// interpolated between two buffered states, the local player passed
// through verbatim from the newest state.
type RenderFrame struct {
	ServerTick  uint64
	RenderTime  int64
	Presence    protocol.PresenceView
	Movement    protocol.MovementView
	Build       protocol.BuildView
	Projectiles protocol.ProjectileView
}

// Pipeline ingests snapshot payloads and produces render frames. It is
// not safe for concurrent use; drive it from the render loop goroutine.
type Pipeline struct {
	buffer []WorldState

	offsetMs  float64
	hasOffset bool
}

func NewPipeline() *Pipeline {
	return &Pipeline{buffer: make([]WorldState, 0, bufferCapacity)}
}

// OffsetMs reports the current smoothed server-minus-client clock
// offset estimate.
func (p *Pipeline) OffsetMs() float64 { return p.offsetMs }

// IngestSnapshot folds one snapshot payload into the pipeline:
// updates the clock offset estimate, merges delta sections onto the
// last merged state, and appends the result to the time-ordered ring
// buffer (dropping the oldest entry past capacity).
func (p *Pipeline) IngestSnapshot(payload protocol.SnapshotPayload, localNowMs int64) error {
	sample := float64(payload.ServerTime - localNowMs)
	if !p.hasOffset {
		p.offsetMs = sample
		p.hasOffset = true
	} else {
		p.offsetMs = p.offsetMs*(1-offsetBlend) + sample*offsetBlend
	}

	state := WorldState{
		ServerTick: payload.ServerTick,
		ServerTime: payload.ServerTime,
	}
	if payload.Mode == protocol.SnapshotModeDelta && len(p.buffer) > 0 {
		// Sections absent from a delta mean "unchanged", not "cleared".
		state.Presence = p.buffer[len(p.buffer)-1].Presence
		state.Movement = p.buffer[len(p.buffer)-1].Movement
		state.Build = p.buffer[len(p.buffer)-1].Build
		state.Projectiles = p.buffer[len(p.buffer)-1].Projectiles
	}

	if err := mergeSection(payload.Features, protocol.FeaturePresence, &state.Presence); err != nil {
		return err
	}
	if err := mergeSection(payload.Features, protocol.FeatureMovement, &state.Movement); err != nil {
		return err
	}
	if err := mergeSection(payload.Features, protocol.FeatureBuild, &state.Build); err != nil {
		return err
	}
	if err := mergeSection(payload.Features, protocol.FeatureProjectile, &state.Projectiles); err != nil {
		return err
	}

	p.insert(state)
	return nil
}

func mergeSection[T any](features map[string]json.RawMessage, key string, dst *T) error {
	raw, ok := features[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s section: %w", key, err)
	}
	return nil
}

// insert keeps the buffer ordered by server time. Snapshots normally
// arrive in order, so the sort position is almost always the end.
func (p *Pipeline) insert(state WorldState) {
	i := sort.Search(len(p.buffer), func(i int) bool {
		return p.buffer[i].ServerTime > state.ServerTime
	})
	p.buffer = append(p.buffer, WorldState{})
	copy(p.buffer[i+1:], p.buffer[i:])
	p.buffer[i] = state
	if len(p.buffer) > bufferCapacity {
		p.buffer = p.buffer[len(p.buffer)-bufferCapacity:]
	}
}

// BuildRenderFrame interpolates the buffered states at the render
// target time (local clock + offset - interpolation delay). Returns nil
// until the first snapshot has been ingested.
func (p *Pipeline) BuildRenderFrame(localPlayerID string, localNowMs int64) *RenderFrame {
	if len(p.buffer) == 0 {
		return nil
	}

	target := float64(localNowMs) + p.offsetMs - interpDelayMs
	older, newer := p.bracket(target)

	frac := 0.0
	if newer.ServerTime > older.ServerTime {
		frac = (target - float64(older.ServerTime)) / float64(newer.ServerTime-older.ServerTime)
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}

	newest := p.buffer[len(p.buffer)-1]
	frame := &RenderFrame{
		ServerTick: newer.ServerTick,
		RenderTime: int64(target),
		// Presence and structures are discrete; take the newer state.
		Presence: newer.Presence,
		Build:    newer.Build,
	}
	frame.Movement = interpolateMovement(older.Movement, newer.Movement, frac)
	frame.Projectiles = interpolateProjectiles(older.Projectiles, newer.Projectiles, frac)

	// The local player is rendered from client-side prediction; blending
	// it toward delayed authority would fight that prediction.
	if entry, ok := newest.Movement.Players[localPlayerID]; ok {
		if frame.Movement.Players == nil {
			frame.Movement.Players = make(map[string]protocol.MovementEntry)
		}
		frame.Movement.Players[localPlayerID] = entry
	}
	return frame
}

// bracket returns the latest state at or before target and the earliest
// at or after it, degenerating to the nearest edge when the target
// falls outside the buffered range.
func (p *Pipeline) bracket(target float64) (older, newer WorldState) {
	older = p.buffer[0]
	newer = p.buffer[len(p.buffer)-1]
	for _, s := range p.buffer {
		if float64(s.ServerTime) <= target {
			older = s
		}
	}
	for i := len(p.buffer) - 1; i >= 0; i-- {
		if float64(p.buffer[i].ServerTime) >= target {
			newer = p.buffer[i]
		}
	}
	if newer.ServerTime < older.ServerTime {
		newer = older
	}
	return older, newer
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

// interpolateMovement blends positions and velocities by player id.
// Players present in only one of the two states pass through unchanged
// rather than being interpolated from or to nothing.
func interpolateMovement(older, newer protocol.MovementView, frac float64) protocol.MovementView {
	out := protocol.MovementView{
		Players:      make(map[string]protocol.MovementEntry, len(newer.Players)),
		LastInputSeq: newer.LastInputSeq,
	}
	for id, b := range newer.Players {
		a, ok := older.Players[id]
		if !ok {
			out.Players[id] = b
			continue
		}
		out.Players[id] = protocol.MovementEntry{
			X:         lerp(a.X, b.X, frac),
			Y:         lerp(a.Y, b.Y, frac),
			VX:        lerp(a.VX, b.VX, frac),
			VY:        lerp(a.VY, b.VY, frac),
			Connected: b.Connected,
		}
	}
	for id, a := range older.Players {
		if _, ok := newer.Players[id]; !ok {
			out.Players[id] = a
		}
	}
	return out
}

func interpolateProjectiles(older, newer protocol.ProjectileView, frac float64) protocol.ProjectileView {
	byID := make(map[string]protocol.ProjectileEntry, len(older.Projectiles))
	for _, e := range older.Projectiles {
		byID[e.ID] = e
	}
	out := protocol.ProjectileView{
		Projectiles: make([]protocol.ProjectileEntry, 0, len(newer.Projectiles)),
		Count:       newer.Count,
	}
	for _, b := range newer.Projectiles {
		a, ok := byID[b.ID]
		if !ok {
			out.Projectiles = append(out.Projectiles, b)
			continue
		}
		b.X = lerp(a.X, b.X, frac)
		b.Y = lerp(a.Y, b.Y, frac)
		b.VX = lerp(a.VX, b.VX, frac)
		b.VY = lerp(a.VY, b.VY, frac)
		out.Projectiles = append(out.Projectiles, b)
	}
	return out
}
