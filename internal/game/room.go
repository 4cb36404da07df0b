package game

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"outpost/internal/protocol"
	"outpost/internal/store"
)

// Room is one isolated simulation instance: one actor, one state tree.
// Every mutation — session registry, feature state, tick counter — runs
// under mu, so no two ticks or command handlers for the same room ever
// execute concurrently. Different rooms share nothing mutable.
type Room struct {
	Code string

	mu  sync.Mutex
	st  *store.Store
	log *zap.SugaredLogger

	features []Feature
	byKey    map[string]Feature

	sessions map[*Session]struct{}

	tick          uint64
	accumulatorMs float64
	lastWakeMs    float64

	// Features whose exported state changed since the last broadcast;
	// the delta snapshot includes exactly these sections.
	dirty         map[string]bool
	snapshotDirty bool

	loopRunning bool
	stopLoop    chan struct{}

	clock func() time.Time
}

// newRoom builds the feature set in its fixed dispatch order, runs every
// module's migration bootstrap, and hydrates persisted state. A failed
// migration is fatal: the room is never returned and accepts no traffic.
func newRoom(code string, st *store.Store, log *zap.SugaredLogger) (*Room, error) {
	r := &Room{
		Code:     code,
		st:       st,
		log:      log,
		byKey:    make(map[string]Feature),
		sessions: make(map[*Session]struct{}),
		dirty:    make(map[string]bool),
		clock:    time.Now,
	}
	r.features = []Feature{
		newPresenceFeature(code, st, log),
		newMovementFeature(code, st, log),
		newBuildFeature(code, st, log),
		newProjectileFeature(code, st, log),
	}
	for _, f := range r.features {
		r.byKey[f.Key()] = f
	}

	if err := st.ApplyMigrations("core", store.CoreMigrations()); err != nil {
		return nil, fmt.Errorf("room %s bootstrap: %w", code, err)
	}
	for _, f := range r.features {
		if err := st.ApplyMigrations(f.Key(), f.Migrations()); err != nil {
			return nil, fmt.Errorf("room %s bootstrap: %w", code, err)
		}
	}
	for _, f := range r.features {
		if l, ok := f.(loader); ok {
			if err := l.load(); err != nil {
				return nil, fmt.Errorf("room %s hydrate %s: %w", code, f.Key(), err)
			}
		}
	}

	if _, ok, err := st.GetRoomMeta(code, "created_at"); err != nil {
		log.Warnw("room meta read failed", "room", code, "err", err)
	} else if !ok {
		if err := st.SetRoomMeta(code, "created_at", fmt.Sprintf("%d", r.clock().UnixMilli())); err != nil {
			log.Warnw("room meta write failed", "room", code, "err", err)
		}
	}
	return r, nil
}

func (r *Room) nowMs() int64 { return r.clock().UnixMilli() }

/* ------------------------------ sessions ----------------------------- */

// Connect registers a new session, replays current state as a full
// snapshot, announces the presence change to everyone, and ensures the
// tick loop is running.
func (r *Room) Connect(playerID, resumeToken string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	sess := newSession(playerID, now)
	r.sessions[sess] = struct{}{}

	nowMs := now.UnixMilli()
	for _, f := range r.features {
		f.Connect(playerID, nowMs)
	}
	r.dirty[protocol.FeaturePresence] = true
	r.snapshotDirty = true

	r.sendEnvelopeLocked(sess, protocol.KindWelcome, protocol.FeatureCore, "connected", nil, protocol.WelcomePayload{
		RoomCode:       r.Code,
		PlayerID:       playerID,
		SimRateHz:      SimRateHz,
		SnapshotRateHz: SnapshotRateHz,
		ResumeToken:    resumeToken,
	})
	r.sendSnapshotLocked(sess, true)
	r.broadcastSnapshotLocked(false)
	r.ensureLoopLocked()

	r.log.Infow("session connected", "room", r.Code, "player", playerID, "sessions", len(r.sessions))
	return sess
}

// Disconnect removes the session, runs the feature hooks once the player
// has no remaining sessions, and stops the loop when the room empties.
func (r *Room) Disconnect(sess *Session) {
	r.mu.Lock()
	if _, ok := r.sessions[sess]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sess)

	if !r.playerConnectedLocked(sess.PlayerID) {
		nowMs := r.nowMs()
		for _, f := range r.features {
			f.Disconnect(sess.PlayerID, nowMs)
		}
	}
	r.dirty[protocol.FeaturePresence] = true
	r.snapshotDirty = true
	r.broadcastSnapshotLocked(false)

	if len(r.sessions) == 0 {
		r.stopLoopLocked()
	}
	r.log.Infow("session disconnected", "room", r.Code, "player", sess.PlayerID, "sessions", len(r.sessions))
	r.mu.Unlock()

	sess.close()
}

func (r *Room) playerConnectedLocked(playerID string) bool {
	for s := range r.sessions {
		if s.PlayerID == playerID {
			return true
		}
	}
	return false
}

func (r *Room) connectedPlayersLocked() []string {
	seen := make(map[string]bool, len(r.sessions))
	ids := make([]string, 0, len(r.sessions))
	for s := range r.sessions {
		if !seen[s.PlayerID] {
			seen[s.PlayerID] = true
			ids = append(ids, s.PlayerID)
		}
	}
	sort.Strings(ids)
	return ids
}

// SessionCount is used by the hub's idle-room sweep.
func (r *Room) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

/* ------------------------------ commands ----------------------------- */

// HandleMessage is the single inbound entry point for a session's
// frames. The simulation is caught up to the wall clock first so the
// command applies to current state.
func (r *Room) HandleMessage(sess *Session, raw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sess]; !ok {
		return
	}
	r.advanceLocked()

	cmd, rej := protocol.ParseCommand(raw)
	if rej != nil {
		r.sendErrorLocked(sess, "invalid_message", rej.Reason)
		return
	}

	// Duplicate or stale retransmission: re-ack, never re-apply.
	if cmd.Seq <= sess.lastSeq {
		r.sendAckLocked(sess, "duplicate", cmd.Seq)
		return
	}
	// Acknowledge before dispatch so a crash mid-handler cannot cause
	// the same command to be reprocessed forever.
	sess.lastSeq = cmd.Seq

	if cmd.Feature == protocol.FeatureCore {
		r.handleCoreLocked(sess, cmd)
		return
	}

	f, ok := r.byKey[cmd.Feature]
	if !ok {
		r.sendErrorLocked(sess, "unknown_feature", cmd.Feature)
		r.sendAckLocked(sess, "command", cmd.Seq)
		return
	}

	out := f.HandleCommand(sess.PlayerID, cmd.Action, cmd.Payload, r.nowMs())
	r.fanOutLocked(sess, out.Events)
	r.sendAckLocked(sess, "command", cmd.Seq)

	if out.Changed {
		// Out-of-band snapshot so state-changing commands feel
		// responsive between simulation ticks.
		r.dirty[cmd.Feature] = true
		r.snapshotDirty = true
		r.broadcastSnapshotLocked(false)
	}
}

func (r *Room) handleCoreLocked(sess *Session, cmd protocol.Command) {
	if cmd.Action != "ping" {
		r.sendErrorLocked(sess, "invalid_core_action", cmd.Action)
		r.sendAckLocked(sess, "command", cmd.Seq)
		return
	}
	seq := cmd.Seq
	r.sendEnvelopeLocked(sess, protocol.KindPong, protocol.FeatureCore, "pong", &seq, protocol.PongPayload{
		ClientTime: cmd.ClientTime,
	})
	r.sendAckLocked(sess, "command", cmd.Seq)
}

// fanOutLocked routes feature events by target scope.
func (r *Room) fanOutLocked(origin *Session, events []Event) {
	for _, ev := range events {
		frame, err := protocol.EncodeServerEnvelope(protocol.KindEvent, r.tick, r.nowMs(), ev.Feature, ev.Action, nil, ev.Payload)
		if err != nil {
			r.log.Errorw("event encode failed", "room", r.Code, "feature", ev.Feature, "action", ev.Action, "err", err)
			continue
		}
		switch ev.Target {
		case TargetRoom:
			for s := range r.sessions {
				s.enqueue(frame)
			}
		case TargetSelf:
			if origin != nil {
				origin.enqueue(frame)
			}
		case TargetPlayer:
			for s := range r.sessions {
				if s.PlayerID == ev.PlayerID {
					s.enqueue(frame)
				}
			}
		}
	}
}

/* ----------------------------- envelopes ------------------------------ */

func (r *Room) sendEnvelopeLocked(sess *Session, kind, feature, action string, seq *int64, payload any) {
	frame, err := protocol.EncodeServerEnvelope(kind, r.tick, r.nowMs(), feature, action, seq, payload)
	if err != nil {
		r.log.Errorw("envelope encode failed", "room", r.Code, "kind", kind, "err", err)
		return
	}
	sess.enqueue(frame)
}

func (r *Room) sendAckLocked(sess *Session, action string, seq int64) {
	r.sendEnvelopeLocked(sess, protocol.KindAck, protocol.FeatureCore, action, &seq, nil)
}

func (r *Room) sendErrorLocked(sess *Session, action, message string) {
	r.sendEnvelopeLocked(sess, protocol.KindError, protocol.FeatureCore, action, nil, protocol.ErrorPayload{Message: message})
}

/* ----------------------------- snapshots ------------------------------ */

func (r *Room) buildSnapshotLocked(full bool) (protocol.SnapshotPayload, error) {
	mode := protocol.SnapshotModeDelta
	if full {
		mode = protocol.SnapshotModeFull
	}
	features := make(map[string]json.RawMessage, len(r.features))
	for _, f := range r.features {
		if !full && !r.dirty[f.Key()] {
			continue
		}
		section, err := json.Marshal(f.Export())
		if err != nil {
			return protocol.SnapshotPayload{}, fmt.Errorf("export %s: %w", f.Key(), err)
		}
		features[f.Key()] = section
	}
	return protocol.SnapshotPayload{
		RoomCode:       r.Code,
		Mode:           mode,
		ServerTick:     r.tick,
		SimRateHz:      SimRateHz,
		SnapshotRateHz: SnapshotRateHz,
		ServerTime:     r.nowMs(),
		Features:       features,
	}, nil
}

func (r *Room) sendSnapshotLocked(sess *Session, full bool) {
	payload, err := r.buildSnapshotLocked(full)
	if err != nil {
		r.log.Errorw("snapshot build failed", "room", r.Code, "err", err)
		return
	}
	r.sendEnvelopeLocked(sess, protocol.KindSnapshot, protocol.FeatureCore, "state", nil, payload)
}

// broadcastSnapshotLocked encodes the snapshot envelope once and hands
// the same frame to every session, then resets the dirty bookkeeping.
func (r *Room) broadcastSnapshotLocked(full bool) {
	payload, err := r.buildSnapshotLocked(full)
	if err != nil {
		r.log.Errorw("snapshot build failed", "room", r.Code, "err", err)
		return
	}
	frame, err := protocol.EncodeServerEnvelope(protocol.KindSnapshot, r.tick, r.nowMs(), protocol.FeatureCore, "state", nil, payload)
	if err != nil {
		r.log.Errorw("snapshot encode failed", "room", r.Code, "err", err)
		return
	}
	for s := range r.sessions {
		s.enqueue(frame)
	}
	r.snapshotDirty = false
	for k := range r.dirty {
		delete(r.dirty, k)
	}
}
