package protocol

// Feature views are the per-module sections of a snapshot's features map.
// The server exports them; the client pipeline decodes them.

type PresenceView struct {
	Players []PresenceEntry `json:"players"`
	Count   int             `json:"count"`
}

type PresenceEntry struct {
	PlayerID string `json:"playerId"`
	LastSeen int64  `json:"lastSeen"`
}

type MovementView struct {
	Players map[string]MovementEntry `json:"players"`
	// LastInputSeq lets clients reconcile locally predicted input against
	// the last batch the server actually applied.
	LastInputSeq map[string]int64 `json:"lastInputSeq"`
}

type MovementEntry struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	VX        float64 `json:"vx"`
	VY        float64 `json:"vy"`
	Connected bool    `json:"connected"`
}

type BuildView struct {
	Structures []StructureEntry `json:"structures"`
	Count      int              `json:"count"`
}

type StructureEntry struct {
	ID      string  `json:"id"`
	OwnerID string  `json:"ownerId"`
	Kind    string  `json:"kind"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

type ProjectileView struct {
	Projectiles []ProjectileEntry `json:"projectiles"`
	Count       int               `json:"count"`
}

type ProjectileEntry struct {
	ID      string  `json:"id"`
	OwnerID string  `json:"ownerId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	VX      float64 `json:"vx"`
	VY      float64 `json:"vy"`
	// ClientID echoes the client-supplied correlation id so locally
	// predicted projectiles can be matched to their authoritative rows.
	ClientID  string `json:"clientId,omitempty"`
	ExpiresAt int64  `json:"expiresAt"`
}
