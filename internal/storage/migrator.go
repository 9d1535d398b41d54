package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const sqliteSuffix = "_sqlite.sql"

// Migrator applies embedded SQL migrations in lexicographic order,
// recording each applied script in a journal table so it runs at most once.
type Migrator struct {
	db     *sql.DB
	driver string
	fsys   fs.FS
}

// NewMigrator creates a migrator for the given driver.
func NewMigrator(db *sql.DB, driver string) *Migrator {
	return &Migrator{db: db, driver: driver, fsys: migrationFS}
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureJournal(ctx); err != nil {
		return err
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}

	scripts, err := m.scripts()
	if err != nil {
		return err
	}

	for _, name := range scripts {
		version := versionOf(name)
		if applied[version] {
			continue
		}
		if err := m.apply(ctx, name, version); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

// scripts lists the migration files for the active driver, sorted.
// A script named NNNN_label_sqlite.sql replaces NNNN_label.sql on sqlite
// and is skipped on postgres.
func (m *Migrator) scripts() ([]string, error) {
	entries, err := fs.ReadDir(m.fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	variants := make(map[string]bool)
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), sqliteSuffix) {
			variants[strings.TrimSuffix(entry.Name(), sqliteSuffix)+".sql"] = true
		}
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		isSQLiteVariant := strings.HasSuffix(name, sqliteSuffix)
		switch m.driver {
		case DriverSQLite:
			if !isSQLiteVariant && variants[name] {
				continue
			}
		default:
			if isSQLiteVariant {
				continue
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// versionOf strips the driver variant suffix so both variants of a script
// share one journal entry.
func versionOf(name string) string {
	if strings.HasSuffix(name, sqliteSuffix) {
		return strings.TrimSuffix(name, sqliteSuffix) + ".sql"
	}
	return name
}

func (m *Migrator) ensureJournal(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migration journal: %w", err)
	}
	return nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read migration journal: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) apply(ctx context.Context, name, version string) error {
	script, err := fs.ReadFile(m.fsys, "migrations/"+name)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		tx.Rollback()
		return fmt.Errorf("exec: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`,
		version, time.Now(),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit()
}
