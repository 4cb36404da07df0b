// Package store is the durable layer for room state: one SQLite database
// per process, every table keyed by room code, written through a small
// typed API so feature modules never touch SQL directly.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and bootstraps the
// migration ledger. Everything else is created by feature migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// The room actor serializes its own writes; a single connection keeps
	// the driver from interleaving transactions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		feature TEXT NOT NULL,
		id TEXT NOT NULL,
		applied_at INTEGER NOT NULL,
		PRIMARY KEY (feature, id)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap migration ledger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

/* ----------------------------- room meta ----------------------------- */

func (s *Store) SetRoomMeta(room, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO room_meta (room, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (room, key) DO UPDATE SET value = excluded.value`,
		room, key, value)
	if err != nil {
		return fmt.Errorf("set room meta %s/%s: %w", room, key, err)
	}
	return nil
}

func (s *Store) GetRoomMeta(room, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM room_meta WHERE room = ? AND key = ?`, room, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get room meta %s/%s: %w", room, key, err)
	}
	return value, true, nil
}

/* --------------------------- resume tokens --------------------------- */

// ResumeTokenTTL is how long a resume token stays redeemable.
const ResumeTokenTTL = 24 * time.Hour

func (s *Store) SaveResumeToken(room, playerID, token string, now time.Time) error {
	expires := now.Add(ResumeTokenTTL).UnixMilli()
	_, err := s.db.Exec(
		`INSERT INTO session_tokens (room, token, player_id, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (room, token) DO UPDATE SET player_id = excluded.player_id, expires_at = excluded.expires_at`,
		room, token, playerID, expires)
	if err != nil {
		return fmt.Errorf("save resume token: %w", err)
	}
	// Opportunistic purge of anything already expired.
	_, _ = s.db.Exec(`DELETE FROM session_tokens WHERE room = ? AND expires_at < ?`, room, now.UnixMilli())
	return nil
}

// RedeemResumeToken returns the player id bound to token, if the token is
// known and unexpired.
func (s *Store) RedeemResumeToken(room, token string, now time.Time) (string, bool, error) {
	var playerID string
	err := s.db.QueryRow(
		`SELECT player_id FROM session_tokens WHERE room = ? AND token = ? AND expires_at >= ?`,
		room, token, now.UnixMilli()).Scan(&playerID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redeem resume token: %w", err)
	}
	return playerID, true, nil
}

/* ----------------------------- presence ------------------------------ */

type PresenceRow struct {
	PlayerID string
	Online   bool
	LastSeen int64
}

func (s *Store) UpsertPresence(room string, row PresenceRow) error {
	_, err := s.db.Exec(
		`INSERT INTO presence_players (room, player_id, online, last_seen) VALUES (?, ?, ?, ?)
		 ON CONFLICT (room, player_id) DO UPDATE SET online = excluded.online, last_seen = excluded.last_seen`,
		room, row.PlayerID, row.Online, row.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert presence %s: %w", row.PlayerID, err)
	}
	return nil
}

func (s *Store) LoadPresence(room string) ([]PresenceRow, error) {
	rows, err := s.db.Query(`SELECT player_id, online, last_seen FROM presence_players WHERE room = ?`, room)
	if err != nil {
		return nil, fmt.Errorf("load presence: %w", err)
	}
	defer rows.Close()
	var out []PresenceRow
	for rows.Next() {
		var r PresenceRow
		if err := rows.Scan(&r.PlayerID, &r.Online, &r.LastSeen); err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

/* ----------------------------- movement ------------------------------ */

type MovementRow struct {
	PlayerID     string
	X, Y         float64
	VX, VY       float64
	LastInputSeq int64
	UpdatedAt    int64
}

func (s *Store) UpsertMovement(room string, row MovementRow) error {
	_, err := s.db.Exec(
		`INSERT INTO movement_state (room, player_id, x, y, vx, vy, last_input_seq, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (room, player_id) DO UPDATE SET
		   x = excluded.x, y = excluded.y, vx = excluded.vx, vy = excluded.vy,
		   last_input_seq = excluded.last_input_seq, updated_at = excluded.updated_at`,
		room, row.PlayerID, row.X, row.Y, row.VX, row.VY, row.LastInputSeq, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert movement %s: %w", row.PlayerID, err)
	}
	return nil
}

func (s *Store) LoadMovement(room string) ([]MovementRow, error) {
	rows, err := s.db.Query(
		`SELECT player_id, x, y, vx, vy, last_input_seq, updated_at FROM movement_state WHERE room = ?`, room)
	if err != nil {
		return nil, fmt.Errorf("load movement: %w", err)
	}
	defer rows.Close()
	var out []MovementRow
	for rows.Next() {
		var r MovementRow
		if err := rows.Scan(&r.PlayerID, &r.X, &r.Y, &r.VX, &r.VY, &r.LastInputSeq, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

/* ------------------------------- build ------------------------------- */

type StructureRow struct {
	ID        string
	OwnerID   string
	Kind      string
	X, Y      float64
	CreatedAt int64
}

// InsertStructure is insert-or-ignore: a duplicate id leaves the existing
// row untouched and reports inserted=false.
func (s *Store) InsertStructure(room string, row StructureRow) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO build_structures (room, id, owner_id, kind, x, y, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		room, row.ID, row.OwnerID, row.Kind, row.X, row.Y, row.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert structure %s: %w", row.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert structure %s: %w", row.ID, err)
	}
	return n > 0, nil
}

func (s *Store) DeleteStructure(room, id string) error {
	if _, err := s.db.Exec(`DELETE FROM build_structures WHERE room = ? AND id = ?`, room, id); err != nil {
		return fmt.Errorf("delete structure %s: %w", id, err)
	}
	return nil
}

func (s *Store) LoadStructures(room string) ([]StructureRow, error) {
	rows, err := s.db.Query(
		`SELECT id, owner_id, kind, x, y, created_at FROM build_structures WHERE room = ? ORDER BY created_at`, room)
	if err != nil {
		return nil, fmt.Errorf("load structures: %w", err)
	}
	defer rows.Close()
	var out []StructureRow
	for rows.Next() {
		var r StructureRow
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Kind, &r.X, &r.Y, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan structure: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

/* ---------------------------- projectiles ---------------------------- */

type ProjectileRow struct {
	ID        string
	OwnerID   string
	X, Y      float64
	VX, VY    float64
	ExpiresAt int64
	ClientID  string
	UpdatedAt int64
}

func (s *Store) UpsertProjectile(room string, row ProjectileRow) error {
	_, err := s.db.Exec(
		`INSERT INTO projectile_state (room, id, owner_id, x, y, vx, vy, expires_at, client_projectile_id, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (room, id) DO UPDATE SET
		   x = excluded.x, y = excluded.y, vx = excluded.vx, vy = excluded.vy,
		   expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		room, row.ID, row.OwnerID, row.X, row.Y, row.VX, row.VY, row.ExpiresAt, row.ClientID, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert projectile %s: %w", row.ID, err)
	}
	return nil
}

func (s *Store) DeleteProjectile(room, id string) error {
	if _, err := s.db.Exec(`DELETE FROM projectile_state WHERE room = ? AND id = ?`, room, id); err != nil {
		return fmt.Errorf("delete projectile %s: %w", id, err)
	}
	return nil
}

func (s *Store) LoadProjectiles(room string) ([]ProjectileRow, error) {
	rows, err := s.db.Query(
		`SELECT id, owner_id, x, y, vx, vy, expires_at, COALESCE(client_projectile_id, ''), updated_at
		 FROM projectile_state WHERE room = ?`, room)
	if err != nil {
		return nil, fmt.Errorf("load projectiles: %w", err)
	}
	defer rows.Close()
	var out []ProjectileRow
	for rows.Next() {
		var r ProjectileRow
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.X, &r.Y, &r.VX, &r.VY, &r.ExpiresAt, &r.ClientID, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan projectile: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
