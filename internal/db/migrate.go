package db

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one versioned schema change
type Migration struct {
	Version      int
	Name         string
	UpSQL        string
	Dependencies []int
}

var (
	filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_-]+)\.sql$`)
	upMarkerRegex = regexp.MustCompile(`^--\s*\+migrate\s+Up\s*$`)
	dependsRegex  = regexp.MustCompile(`^--\s*\+migrate\s+Depends:\s*(.+)$`)
)

// Migrate applies every embedded migration that has not been applied yet
func (db *DB) Migrate() error {
	migrations, err := LoadMigrations(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	return db.applyMigrations(migrations)
}

// CurrentVersion returns the highest applied migration version, 0 when none
func (db *DB) CurrentVersion() (int, error) {
	if err := db.createSchemaTable(); err != nil {
		return 0, err
	}

	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

func (db *DB) applyMigrations(migrations []Migration) error {
	if err := db.createSchemaTable(); err != nil {
		return fmt.Errorf("failed to create schema table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		for _, dep := range m.Dependencies {
			if !applied[dep] {
				return fmt.Errorf("migration %d depends on version %d which has not been applied", m.Version, dep)
			}
		}

		err := db.WithTransaction(func(tx *Tx) error {
			if _, err := tx.Exec(m.UpSQL); err != nil {
				return fmt.Errorf("failed to execute SQL: %w", err)
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
				return fmt.Errorf("failed to record migration: %w", err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
		}

		applied[m.Version] = true
	}

	return nil
}

func (db *DB) createSchemaTable() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// LoadMigrations reads every NNN_name.sql file in dir, sorted by version.
// Versions must start at 1 with no gaps.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !filenameRegex.MatchString(entry.Name()) {
			continue
		}

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file: %w", err)
		}

		m, err := ParseMigration(entry.Name(), string(content))
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, *m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for i, m := range migrations {
		if m.Version != i+1 {
			return nil, fmt.Errorf("gap or duplicate in migration versions: expected %d, found %d", i+1, m.Version)
		}
		for _, dep := range m.Dependencies {
			if dep >= m.Version {
				return nil, fmt.Errorf("migration %d depends on later or equal version %d", m.Version, dep)
			}
		}
	}

	return migrations, nil
}

// ParseMigration parses the contents of a single migration file.
// The SQL follows a "-- +migrate Up" marker, optionally preceded by a
// "-- +migrate Depends: 001 002" directive.
func ParseMigration(filename, content string) (*Migration, error) {
	matches := filenameRegex.FindStringSubmatch(filename)
	if matches == nil {
		return nil, fmt.Errorf("invalid migration filename format: %s (expected NNN_name.sql)", filename)
	}

	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid version number in filename: %s", matches[1])
	}

	lines := strings.Split(content, "\n")

	upMarkerLine := -1
	for i, line := range lines {
		if upMarkerRegex.MatchString(strings.TrimSpace(line)) {
			upMarkerLine = i
			break
		}
	}
	if upMarkerLine < 0 {
		return nil, fmt.Errorf("missing '-- +migrate Up' marker in migration file: %s", filename)
	}

	var deps []int
	var sqlLines []string
	for _, line := range lines[upMarkerLine+1:] {
		trimmed := strings.TrimSpace(line)
		if m := dependsRegex.FindStringSubmatch(trimmed); m != nil {
			for _, field := range strings.Fields(m[1]) {
				dep, err := strconv.Atoi(field)
				if err != nil {
					return nil, fmt.Errorf("invalid dependency version '%s' in migration file: %s", field, filename)
				}
				deps = append(deps, dep)
			}
			continue
		}
		sqlLines = append(sqlLines, line)
	}

	sql := strings.TrimSpace(strings.Join(sqlLines, "\n"))
	if sql == "" {
		return nil, fmt.Errorf("migration file contains no SQL statements: %s", filename)
	}

	return &Migration{
		Version:      version,
		Name:         matches[2],
		UpSQL:        sql,
		Dependencies: deps,
	}, nil
}
