package game

import (
	"sync"
	"time"
)

// Session is one live connection, owned exclusively by its room. The
// room writes frames into a bounded send queue; the transport layer
// drains it from a write pump. Enqueue never blocks: when the queue is
// full the frame is dropped so one slow socket cannot stall a broadcast
// or a tick.
type Session struct {
	PlayerID string
	JoinedAt time.Time

	lastSeq int64 // highest acknowledged inbound sequence number

	send      chan []byte
	closeOnce sync.Once
}

func newSession(playerID string, now time.Time) *Session {
	return &Session{
		PlayerID: playerID,
		JoinedAt: now,
		send:     make(chan []byte, sessionSendBuffer),
	}
}

func (s *Session) enqueue(frame []byte) {
	select {
	case s.send <- frame:
	default:
		// Dropped: stale frames are superseded by the next snapshot.
	}
}

// Outbound is drained by the transport's write pump; it is closed when
// the session leaves the room.
func (s *Session) Outbound() <-chan []byte { return s.send }

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.send) })
}
