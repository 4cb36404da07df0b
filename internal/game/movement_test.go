package game

import (
	"encoding/json"
	"math"
	"testing"

	"go.uber.org/zap"

	"outpost/internal/protocol"
	"outpost/internal/sim"
)

func newTestMovement(t *testing.T) *movementFeature {
	t.Helper()
	st := newTestStore(t)
	f := newMovementFeature("TESTROOM", st, zap.NewNop().Sugar())
	if err := st.ApplyMigrations(f.Key(), f.Migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return f
}

func inputBatch(t *testing.T, inputs ...inputRecord) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(inputBatchPayload{Inputs: inputs})
	if err != nil {
		t.Fatalf("marshal batch: %v", err)
	}
	return raw
}

func TestInputBatchFirstSeqWins(t *testing.T) {
	f := newTestMovement(t)
	f.Connect("alice", 0)

	f.HandleCommand("alice", "input_batch", inputBatch(t, inputRecord{Seq: 1, Up: true}), 100)
	// Same input seq retransmitted with different flags: dropped.
	f.HandleCommand("alice", "input_batch", inputBatch(t, inputRecord{Seq: 1, Down: true}), 200)

	p := f.players["alice"]
	if !p.input.Up || p.input.Down {
		t.Fatalf("duplicate input seq applied: %+v", p.input)
	}
	if p.lastInputSeq != 1 {
		t.Fatalf("lastInputSeq = %d, want 1", p.lastInputSeq)
	}
}

func TestInputBatchAppliesLatestOfBatch(t *testing.T) {
	f := newTestMovement(t)
	f.Connect("alice", 0)

	f.HandleCommand("alice", "input_batch", inputBatch(t,
		inputRecord{Seq: 1, Up: true},
		inputRecord{Seq: 3, Left: true},
		inputRecord{Seq: 2, Right: true}, // stale inside the batch
	), 100)

	p := f.players["alice"]
	if p.lastInputSeq != 3 {
		t.Fatalf("lastInputSeq = %d, want 3", p.lastInputSeq)
	}
	if !p.input.Left || p.input.Up || p.input.Right {
		t.Fatalf("applied input = %+v, want only left", p.input)
	}
}

func TestInputBatchTooLargeRejected(t *testing.T) {
	f := newTestMovement(t)
	f.Connect("alice", 0)

	inputs := make([]inputRecord, maxInputBatchSize+1)
	for i := range inputs {
		inputs[i] = inputRecord{Seq: int64(i + 1), Up: true}
	}
	out := f.HandleCommand("alice", "input_batch", inputBatch(t, inputs...), 100)

	if out.Changed {
		t.Fatalf("oversized batch reported a state change")
	}
	if len(out.Events) != 1 || out.Events[0].Action != "invalid_payload" {
		t.Fatalf("events = %+v, want one invalid_payload", out.Events)
	}
	if f.players["alice"].lastInputSeq != 0 {
		t.Fatalf("oversized batch was applied")
	}
}

func TestMovementTickClampsToMapLimit(t *testing.T) {
	f := newTestMovement(t)
	f.Connect("alice", 0)
	f.players["alice"].pos.X = MovementMapLimit - 1
	f.HandleCommand("alice", "input_batch", inputBatch(t, inputRecord{Seq: 1, Right: true}), 0)

	ctx := &TickContext{Dt: SimDtSeconds, Players: []string{"alice"}}
	for i := 0; i < 100; i++ {
		ctx.Tick++
		f.Tick(ctx)
	}

	p := f.players["alice"]
	if p.pos.X != MovementMapLimit {
		t.Fatalf("x = %v, want clamped at %v", p.pos.X, MovementMapLimit)
	}
}

func TestMovementDiagonalSpeedNormalized(t *testing.T) {
	f := newTestMovement(t)
	f.Connect("alice", 0)
	f.HandleCommand("alice", "input_batch", inputBatch(t, inputRecord{Seq: 1, Up: true, Right: true}), 0)

	f.Tick(&TickContext{Tick: 1, Dt: SimDtSeconds, Players: []string{"alice"}})

	p := f.players["alice"]
	speed := math.Hypot(p.vel.X, p.vel.Y)
	if math.Abs(speed-MoveSpeed) > 1e-9 {
		t.Fatalf("diagonal speed = %v, want %v", speed, MoveSpeed)
	}
}

func TestReconnectResetsInputSeqWatermark(t *testing.T) {
	f := newTestMovement(t)
	f.Connect("alice", 0)
	f.HandleCommand("alice", "input_batch", inputBatch(t, inputRecord{Seq: 50, Up: true}), 100)
	f.Disconnect("alice", 200)

	// A fresh connection starts its input numbering from 1 again; the
	// old watermark must not outlive the connection.
	f.Connect("alice", 300)
	f.HandleCommand("alice", "input_batch", inputBatch(t, inputRecord{Seq: 1, Right: true}), 400)

	p := f.players["alice"]
	if !p.input.Right {
		t.Fatalf("post-reconnect input dropped as stale: input=%+v lastInputSeq=%d", p.input, p.lastInputSeq)
	}
	if p.lastInputSeq != 1 {
		t.Fatalf("lastInputSeq = %d, want 1", p.lastInputSeq)
	}
}

func TestConnectAfterRehydrateAcceptsSeqOne(t *testing.T) {
	st := newTestStore(t)
	log := zap.NewNop().Sugar()
	f := newMovementFeature("TESTROOM", st, log)
	if err := st.ApplyMigrations(f.Key(), f.Migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	f.Connect("alice", 0)
	f.players["alice"].pos = sim.Vec2{X: 40, Y: 50}
	f.HandleCommand("alice", "input_batch", inputBatch(t, inputRecord{Seq: 99, Up: true}), 100)
	f.Disconnect("alice", 200)

	fresh := newMovementFeature("TESTROOM", st, log)
	if err := fresh.load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	fresh.Connect("alice", 300)
	fresh.HandleCommand("alice", "input_batch", inputBatch(t, inputRecord{Seq: 1, Right: true}), 400)

	p := fresh.players["alice"]
	if !p.input.Right || p.lastInputSeq != 1 {
		t.Fatalf("rehydrated watermark survived reconnect: input=%+v lastInputSeq=%d", p.input, p.lastInputSeq)
	}
	if p.pos.X != 40 || p.pos.Y != 50 {
		t.Fatalf("position not retained across restart: %+v", p.pos)
	}
}

func TestMovementCheckpointAndRehydrate(t *testing.T) {
	st := newTestStore(t)
	log := zap.NewNop().Sugar()
	f := newMovementFeature("TESTROOM", st, log)
	if err := st.ApplyMigrations(f.Key(), f.Migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f.Connect("alice", 0)
	f.HandleCommand("alice", "input_batch", inputBatch(t, inputRecord{Seq: 7, Right: true}), 0)
	f.Tick(&TickContext{Tick: 1, Dt: SimDtSeconds, NowMs: checkpointIntervalMs + 1, Players: []string{"alice"}})

	fresh := newMovementFeature("TESTROOM", st, log)
	if err := fresh.load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	p, ok := fresh.players["alice"]
	if !ok {
		t.Fatalf("alice not rehydrated")
	}
	if p.lastInputSeq != 7 {
		t.Fatalf("rehydrated lastInputSeq = %d, want 7", p.lastInputSeq)
	}
	if p.pos.X <= 0 {
		t.Fatalf("rehydrated x = %v, want progress along +x", p.pos.X)
	}
	if p.connected {
		t.Fatalf("rehydrated player marked connected")
	}
}

func TestMovementExportIncludesLastInputSeq(t *testing.T) {
	f := newTestMovement(t)
	f.Connect("alice", 0)
	f.HandleCommand("alice", "input_batch", inputBatch(t, inputRecord{Seq: 42, Up: true}), 0)

	view := f.Export().(protocol.MovementView)
	if view.LastInputSeq["alice"] != 42 {
		t.Fatalf("exported lastInputSeq = %d, want 42", view.LastInputSeq["alice"])
	}
	if _, ok := view.Players["alice"]; !ok {
		t.Fatalf("alice missing from exported players")
	}
}
