package store

// CoreMigrations creates the tables owned by the store itself: room
// metadata and resume tokens. Feature tables are declared by the feature
// modules that own them.
func CoreMigrations() []Migration {
	return []Migration{
		{ID: "001_create_room_meta", Statements: []string{
			`CREATE TABLE IF NOT EXISTS room_meta (
				room TEXT NOT NULL,
				key TEXT NOT NULL,
				value TEXT NOT NULL,
				PRIMARY KEY (room, key)
			)`,
		}},
		{ID: "002_create_session_tokens", Statements: []string{
			`CREATE TABLE IF NOT EXISTS session_tokens (
				room TEXT NOT NULL,
				token TEXT NOT NULL,
				player_id TEXT NOT NULL,
				expires_at INTEGER NOT NULL,
				PRIMARY KEY (room, token)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_session_tokens_expiry
				ON session_tokens (room, expires_at)`,
		}},
	}
}
