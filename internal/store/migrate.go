package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Migration is one idempotent schema step declared by a feature module.
// Steps are identified by a stable id and applied at most once; the
// ledger key is (feature, id).
type Migration struct {
	ID         string
	Statements []string
}

// ApplyMigrations runs the feature's pending migrations in declaration
// order. Each migration executes inside a transaction together with its
// ledger insert, so a crash mid-step cannot record an unapplied
// migration. Any failure other than the known column-already-exists case
// aborts the bootstrap and must prevent the room from accepting traffic.
func (s *Store) ApplyMigrations(feature string, migrations []Migration) error {
	for _, m := range migrations {
		applied, err := s.migrationApplied(feature, m.ID)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s/%s: %w", feature, m.ID, err)
		}
		for _, stmt := range m.Statements {
			if _, err := tx.Exec(stmt); err != nil {
				// Pre-ledger schemas may already carry a column an ALTER
				// TABLE step adds; that exact case is idempotent.
				if IsDuplicateColumn(err) {
					continue
				}
				tx.Rollback()
				return fmt.Errorf("migration %s/%s: %w", feature, m.ID, err)
			}
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (feature, id, applied_at) VALUES (?, ?, ?)`,
			feature, m.ID, time.Now().UnixMilli()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s/%s: %w", feature, m.ID, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s/%s: %w", feature, m.ID, err)
		}
	}
	return nil
}

func (s *Store) migrationApplied(feature, id string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM schema_migrations WHERE feature = ? AND id = ?`, feature, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check migration %s/%s: %w", feature, id, err)
	}
	return n > 0, nil
}

// IsDuplicateColumn reports whether err is SQLite's "duplicate column
// name" failure from an ALTER TABLE ... ADD COLUMN that already ran.
// SQLite gives this no dedicated extended result code, so the primary
// code check is narrowed by the driver message; the string inspection is
// confined to this one helper.
func IsDuplicateColumn(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() != sqlite3.SQLITE_ERROR {
		return false
	}
	return strings.Contains(se.Error(), "duplicate column name")
}
