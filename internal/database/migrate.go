package database

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// getSchemaVersion reads PRAGMA user_version from the database.
func getSchemaVersion(conn *sqlx.DB) (int, error) {
	var version int
	if err := conn.Get(&version, "PRAGMA user_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// setSchemaVersion stamps user_version. modernc/sqlite does not honour the
// pragma inside a transaction, so it runs after each commit; every migration
// is idempotent DDL and may re-run if the stamp is lost.
func setSchemaVersion(conn *sqlx.DB, version int) error {
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("setting version %d: %w", version, err)
	}
	return nil
}

// migrate applies every pending kv schema migration and returns how many ran.
func migrate(conn *sqlx.DB) (int, error) {
	current, err := getSchemaVersion(conn)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(conn, m); err != nil {
			return applied, err
		}
		applied++
		slog.Info("kv schema migrated", "version", m.Version, "description", m.Description)
	}
	return applied, nil
}

func applyMigration(conn *sqlx.DB, m Migration) error {
	tx, err := conn.Beginx()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	if err := m.Up(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return setSchemaVersion(conn, m.Version)
}
