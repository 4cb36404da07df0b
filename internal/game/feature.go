package game

import (
	"encoding/json"

	"outpost/internal/store"
)

// TickContext is the shared read/write context handed to every feature's
// tick hook for one simulation step.
type TickContext struct {
	Tick    uint64
	Dt      float64
	NowMs   int64
	Players []string // connected player ids, sorted
}

// EventTarget selects the fan-out scope of a feature event.
type EventTarget int

const (
	// TargetRoom broadcasts to every session in the room.
	TargetRoom EventTarget = iota
	// TargetSelf replies only to the session that issued the command.
	TargetSelf
	// TargetPlayer addresses every session bound to Event.PlayerID.
	TargetPlayer
)

// Event is a feature-emitted message fanned out by the room actor.
type Event struct {
	Target   EventTarget
	PlayerID string // recipient for TargetPlayer, ignored otherwise
	Feature  string
	Action   string
	Payload  any
}

// Outcome is what a feature reports back from a command or tick: whether
// exported state changed (forcing an out-of-band snapshot) and any events
// to fan out.
type Outcome struct {
	Changed bool
	Events  []Event
}

// Feature is the capability contract every game-state module implements.
// The set is closed: the four implementations are constructed in a fixed
// order by newRoom and there is no open registration.
type Feature interface {
	Key() string
	// Migrations declares the module's ordered, idempotent schema steps.
	// They run once per (feature, id) before the room accepts traffic.
	Migrations() []store.Migration
	// Connect is called for every accepted session and must tolerate an
	// already-known player id (reconnects).
	Connect(playerID string, nowMs int64)
	Disconnect(playerID string, nowMs int64)
	HandleCommand(playerID, action string, payload json.RawMessage, nowMs int64) Outcome
	Tick(ctx *TickContext) Outcome
	// Export returns the module's snapshot section. It must be cheap and
	// bounded; snapshots are built every broadcast.
	Export() any
}

// loader is implemented by features that hydrate persisted state when the
// room is created (after migrations, before any traffic).
type loader interface {
	load() error
}

func selfEvent(feature, action string, payload any) Outcome {
	return Outcome{Events: []Event{{Target: TargetSelf, Feature: feature, Action: action, Payload: payload}}}
}

func invalidPayload(feature, message string) Outcome {
	return selfEvent(feature, "invalid_payload", map[string]string{"message": message})
}

func invalidAction(feature, action string) Outcome {
	return selfEvent(feature, "invalid_action", map[string]string{"action": action})
}
