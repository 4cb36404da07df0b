package game

import (
	"encoding/json"

	"go.uber.org/zap"

	"outpost/internal/protocol"
	"outpost/internal/sim"
	"outpost/internal/store"
)

// movementFeature holds the latest input flags per player and integrates
// positions each tick through the sim kernel. Input batches arrive
// sequence-stamped; out-of-order or duplicate batches are dropped by
// per-player monotonic comparison, independent of envelope sequencing.
type movementFeature struct {
	room string
	st   *store.Store
	log  *zap.SugaredLogger

	players          map[string]*movementPlayer
	lastCheckpointMs int64
}

type movementPlayer struct {
	pos          sim.Vec2
	vel          sim.Vec2
	input        sim.InputState
	lastInputSeq int64
	connected    bool
}

type inputBatchPayload struct {
	Inputs []inputRecord `json:"inputs"`
}

type inputRecord struct {
	Seq   int64 `json:"seq"`
	Up    bool  `json:"up"`
	Down  bool  `json:"down"`
	Left  bool  `json:"left"`
	Right bool  `json:"right"`
}

func newMovementFeature(room string, st *store.Store, log *zap.SugaredLogger) *movementFeature {
	return &movementFeature{
		room:    room,
		st:      st,
		log:     log,
		players: make(map[string]*movementPlayer),
	}
}

func (f *movementFeature) Key() string { return protocol.FeatureMovement }

func (f *movementFeature) Migrations() []store.Migration {
	return []store.Migration{
		{ID: "001_create_movement_state", Statements: []string{
			`CREATE TABLE IF NOT EXISTS movement_state (
				room TEXT NOT NULL,
				player_id TEXT NOT NULL,
				x REAL NOT NULL,
				y REAL NOT NULL,
				vx REAL NOT NULL,
				vy REAL NOT NULL,
				last_input_seq INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (room, player_id)
			)`,
		}},
	}
}

func (f *movementFeature) load() error {
	rows, err := f.st.LoadMovement(f.room)
	if err != nil {
		return err
	}
	for _, r := range rows {
		f.players[r.PlayerID] = &movementPlayer{
			pos:          sim.Vec2{X: r.X, Y: r.Y},
			lastInputSeq: r.LastInputSeq,
		}
	}
	return nil
}

// Connect is idempotent: a reconnecting player keeps their persisted
// position. Input sequence numbers are connection-scoped, so the seq
// watermark and runtime input reset on every join — a reconnecting
// client restarting at seq=1 is accepted immediately.
func (f *movementFeature) Connect(playerID string, nowMs int64) {
	p, ok := f.players[playerID]
	if !ok {
		p = &movementPlayer{}
		f.players[playerID] = p
	}
	p.connected = true
	p.lastInputSeq = 0
	p.input = sim.InputState{}
	p.vel = sim.Vec2{}
}

// Disconnect retains the position but clears runtime-only input state so
// a dropped connection does not leave the player walking forever.
func (f *movementFeature) Disconnect(playerID string, nowMs int64) {
	p, ok := f.players[playerID]
	if !ok {
		return
	}
	p.connected = false
	p.input = sim.InputState{}
	p.vel = sim.Vec2{}
	f.checkpointPlayer(playerID, p, nowMs)
}

func (f *movementFeature) HandleCommand(playerID, action string, payload json.RawMessage, nowMs int64) Outcome {
	if action != "input_batch" {
		return invalidAction(f.Key(), action)
	}
	var batch inputBatchPayload
	if payload == nil || json.Unmarshal(payload, &batch) != nil {
		return invalidPayload(f.Key(), "invalid movement payload")
	}
	if len(batch.Inputs) > maxInputBatchSize {
		return invalidPayload(f.Key(), "input batch too large")
	}
	if len(batch.Inputs) == 0 {
		return Outcome{}
	}

	p, ok := f.players[playerID]
	if !ok {
		p = &movementPlayer{connected: true}
		f.players[playerID] = p
	}

	lastSeq := p.lastInputSeq
	latest := p.input
	accepted := false
	for _, in := range batch.Inputs {
		if in.Seq <= lastSeq {
			continue
		}
		lastSeq = in.Seq
		latest = sim.InputState{Up: in.Up, Down: in.Down, Left: in.Left, Right: in.Right}
		accepted = true
	}
	if accepted {
		p.lastInputSeq = lastSeq
		p.input = latest
	}
	// Input alone does not change exported state; the next tick does.
	return Outcome{}
}

func (f *movementFeature) Tick(ctx *TickContext) Outcome {
	changed := false
	for _, id := range ctx.Players {
		p, ok := f.players[id]
		if !ok {
			p = &movementPlayer{connected: true}
			f.players[id] = p
		}
		step := sim.MovementIntegrate(p.pos, p.input, ctx.Dt, MoveSpeed, MovementMapLimit)
		if step.Pos != p.pos || step.Vel != p.vel {
			changed = true
		}
		p.pos = step.Pos
		p.vel = step.Vel
	}

	if ctx.NowMs-f.lastCheckpointMs >= checkpointIntervalMs {
		f.lastCheckpointMs = ctx.NowMs
		f.checkpoint(ctx.NowMs)
	}
	return Outcome{Changed: changed}
}

// checkpoint persists every player row; failures are logged and dropped,
// never surfaced into the tick.
func (f *movementFeature) checkpoint(nowMs int64) {
	for id, p := range f.players {
		f.checkpointPlayer(id, p, nowMs)
	}
}

func (f *movementFeature) checkpointPlayer(id string, p *movementPlayer, nowMs int64) {
	err := f.st.UpsertMovement(f.room, store.MovementRow{
		PlayerID:     id,
		X:            p.pos.X,
		Y:            p.pos.Y,
		VX:           p.vel.X,
		VY:           p.vel.Y,
		LastInputSeq: p.lastInputSeq,
		UpdatedAt:    nowMs,
	})
	if err != nil {
		f.log.Warnw("movement checkpoint failed", "room", f.room, "player", id, "err", err)
	}
}

func (f *movementFeature) Export() any {
	players := make(map[string]protocol.MovementEntry, len(f.players))
	lastSeq := make(map[string]int64, len(f.players))
	for id, p := range f.players {
		players[id] = protocol.MovementEntry{
			X:         p.pos.X,
			Y:         p.pos.Y,
			VX:        p.vel.X,
			VY:        p.vel.Y,
			Connected: p.connected,
		}
		lastSeq[id] = p.lastInputSeq
	}
	return protocol.MovementView{Players: players, LastInputSeq: lastSeq}
}
