package store

import (
	"crypto/sha256"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migration is one embedded schema step, identified by the numeric prefix of
// its filename.
type migration struct {
	version  string
	name     string
	script   string
	checksum string
}

// migrate brings the schema up to date. Applied versions are recorded in
// schema_migrations together with a content checksum, so an edited migration
// file fails loudly instead of silently diverging from existing databases.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		var recorded string
		err := db.QueryRow(
			"SELECT checksum FROM schema_migrations WHERE version = ?", m.version,
		).Scan(&recorded)
		switch {
		case err == nil:
			if recorded != m.checksum {
				return fmt.Errorf("migration %s changed after being applied: checksum %s, recorded %s", m.name, m.checksum, recorded)
			}
			continue
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check migration %s: %w", m.name, err)
		}

		if _, err := db.Exec(m.script); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, checksum) VALUES (?, ?)",
			m.version, m.checksum,
		); err != nil {
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
	}

	return nil
}

// loadMigrations reads the embedded migration files in version order.
func loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	var migrations []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		content, err := fs.ReadFile(migrationsFS, "migrations/"+name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}

		// "001_initial_schema.sql" -> version "001".
		version, _, _ := strings.Cut(name, "_")
		migrations = append(migrations, migration{
			version:  version,
			name:     name,
			script:   string(content),
			checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})
	return migrations, nil
}
