package protocol

import (
	"encoding/json"
	"math"
)

// Rejection classifies a malformed inbound frame. It is a value, not an
// error: the caller replies with a typed error envelope and keeps the
// connection alive.
type Rejection struct {
	Reason string
}

const (
	RejectTooLarge    = "envelope_too_large"
	RejectMalformed   = "malformed_envelope"
	RejectBadVersion  = "unsupported_version"
	RejectBadKind     = "invalid_kind"
	RejectBadSeq      = "invalid_seq"
	RejectBadFeature  = "invalid_feature"
	RejectBadAction   = "invalid_action"
	RejectBadTime     = "invalid_client_time"
)

// ValidIdentifier reports whether s is a wire-safe feature/action/id
// token: 1..MaxIdentifierLen chars of lowercase alphanumerics and
// underscores.
func ValidIdentifier(s string) bool {
	if len(s) == 0 || len(s) > MaxIdentifierLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}

// ParseCommand decodes and validates one inbound frame. It never returns
// a Go error across the trust boundary; every failure mode is a
// *Rejection the caller can answer with.
func ParseCommand(raw []byte) (Command, *Rejection) {
	if len(raw) > MaxEnvelopeBytes {
		return Command{}, &Rejection{Reason: RejectTooLarge}
	}
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, &Rejection{Reason: RejectMalformed}
	}
	switch {
	case cmd.V != Version:
		return Command{}, &Rejection{Reason: RejectBadVersion}
	case cmd.Kind != KindCommand:
		return Command{}, &Rejection{Reason: RejectBadKind}
	case cmd.Seq < 1:
		return Command{}, &Rejection{Reason: RejectBadSeq}
	case !ValidIdentifier(cmd.Feature):
		return Command{}, &Rejection{Reason: RejectBadFeature}
	case !ValidIdentifier(cmd.Action):
		return Command{}, &Rejection{Reason: RejectBadAction}
	case math.IsNaN(cmd.ClientTime) || math.IsInf(cmd.ClientTime, 0):
		return Command{}, &Rejection{Reason: RejectBadTime}
	}
	return cmd, nil
}

// EncodeServerEnvelope marshals one server frame. Pure: no side effects,
// optional fields are omitted rather than encoded as null.
func EncodeServerEnvelope(kind string, tick uint64, serverTime int64, feature, action string, seq *int64, payload any) ([]byte, error) {
	env := ServerEnvelope{
		V:          Version,
		Kind:       kind,
		Tick:       tick,
		ServerTime: serverTime,
		Feature:    feature,
		Action:     action,
		Seq:        seq,
	}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = body
	}
	return json.Marshal(env)
}

// DecodeServerEnvelope is the client-side counterpart of
// EncodeServerEnvelope.
func DecodeServerEnvelope(raw []byte) (ServerEnvelope, error) {
	var env ServerEnvelope
	err := json.Unmarshal(raw, &env)
	return env, err
}
