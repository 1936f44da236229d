package journal

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one versioned schema step
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// migrator applies embedded migrations and tracks them in schema_migrations
// ARCHITECTURAL DISCOVERY: Migrations ship inside the binary; the journal
// database is created fresh on every start
type migrator struct {
	db    *sql.DB
	files fs.FS
}

func newMigrator(db *sql.DB) *migrator {
	return &migrator{db: db, files: migrationFiles}
}

// apply runs every migration not yet recorded, in version order
func (m *migrator) apply() error {
	if _, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	migrations, err := m.load()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	applied, err := m.applied()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.applyOne(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}
	return nil
}

// load reads migrations named like "001_description.sql"
func (m *migrator) load() ([]Migration, error) {
	entries, err := fs.ReadDir(m.files, "migrations")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if path.Ext(name) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(m.files, path.Join("migrations", name))
		if err != nil {
			return nil, err
		}
		version, description, _ := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (m *migrator) applied() (map[string]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	versions := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions[version] = true
	}
	return versions, rows.Err()
}

// applyOne runs a migration and records it in one transaction
func (m *migrator) applyOne(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}

// validate checks that the tables and indexes the journal queries exist
func (m *migrator) validate() error {
	for _, table := range []string{"activity", "schema_migrations"} {
		if ok, err := m.exists("table", table); err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		} else if !ok {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	for _, index := range []string{"idx_activity_room_time", "idx_activity_time", "idx_activity_room_kind"} {
		if ok, err := m.exists("index", index); err != nil {
			return fmt.Errorf("failed to check index %s: %w", index, err)
		} else if !ok {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

func (m *migrator) exists(kind, name string) (bool, error) {
	var count int
	err := m.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name,
	).Scan(&count)
	return count > 0, err
}
