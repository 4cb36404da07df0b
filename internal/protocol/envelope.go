// Package protocol defines the versioned JSON wire format shared by the
// room server and the client replication pipeline, plus the codec that
// validates inbound frames before they reach any stateful component.
package protocol

import "encoding/json"

// Version is the protocol version tag carried by every envelope. It is
// constant for the lifetime of a session; a mismatch rejects the frame.
const Version = 2

const (
	KindCommand  = "command"
	KindWelcome  = "welcome"
	KindAck      = "ack"
	KindSnapshot = "snapshot"
	KindEvent    = "event"
	KindError    = "error"
	KindPong     = "pong"
)

const (
	FeatureCore       = "core"
	FeaturePresence   = "presence"
	FeatureMovement   = "movement"
	FeatureBuild      = "build"
	FeatureProjectile = "projectile"
)

const (
	SnapshotModeFull  = "full"
	SnapshotModeDelta = "delta"
)

// MaxIdentifierLen bounds feature and action strings on the wire.
const MaxIdentifierLen = 64

// MaxEnvelopeBytes bounds one inbound frame.
const MaxEnvelopeBytes = 32 * 1024

// Command is a validated client->server envelope.
type Command struct {
	V          int             `json:"v"`
	Kind       string          `json:"kind"`
	Seq        int64           `json:"seq"`
	Feature    string          `json:"feature"`
	Action     string          `json:"action"`
	ClientTime float64         `json:"clientTime"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ServerEnvelope is every server->client frame. Seq is present only on
// acks and pongs; Payload is omitted when a kind carries none.
type ServerEnvelope struct {
	V          int             `json:"v"`
	Kind       string          `json:"kind"`
	Tick       uint64          `json:"tick"`
	ServerTime int64           `json:"serverTime"`
	Feature    string          `json:"feature"`
	Action     string          `json:"action"`
	Seq        *int64          `json:"seq,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// WelcomePayload is sent once per accepted connection.
type WelcomePayload struct {
	RoomCode       string `json:"roomCode"`
	PlayerID       string `json:"playerId"`
	SimRateHz      int    `json:"simRateHz"`
	SnapshotRateHz int    `json:"snapshotRateHz"`
	ResumeToken    string `json:"resumeToken,omitempty"`
}

// SnapshotPayload aggregates every feature module's exported view. In
// delta mode only the features whose state changed since the previous
// broadcast are present; absent sections mean "unchanged".
type SnapshotPayload struct {
	RoomCode       string                     `json:"roomCode"`
	Mode           string                     `json:"mode"`
	ServerTick     uint64                     `json:"serverTick"`
	SimRateHz      int                        `json:"simRateHz"`
	SnapshotRateHz int                        `json:"snapshotRateHz"`
	ServerTime     int64                      `json:"serverTime"`
	Features       map[string]json.RawMessage `json:"features"`
}

// ErrorPayload is the body of a typed error envelope.
type ErrorPayload struct {
	Message string `json:"message"`
}

// PongPayload echoes the client clock for round-trip estimation.
type PongPayload struct {
	ClientTime float64 `json:"clientTime"`
}
