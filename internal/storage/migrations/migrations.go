package migrations

import (
	"cmp"
	"database/sql"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"
)

type migration struct {
	version int
	name    string
	content string
}

// Run applies every script whose version is not yet recorded, in version
// order. Each script runs in its own transaction.
func Run(db *sql.DB) error {
	scripts, err := pendingScripts(db)
	if err != nil {
		return err
	}
	for _, m := range scripts {
		if err := apply(db, m); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}

// Version returns the highest applied version, 0 for a fresh database.
func Version(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM _migrations").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// Pending returns the versions not yet applied, ascending. It creates the
// bookkeeping table on a fresh database.
func Pending(db *sql.DB) ([]int, error) {
	scripts, err := pendingScripts(db)
	if err != nil {
		return nil, err
	}
	versions := make([]int, 0, len(scripts))
	for _, m := range scripts {
		versions = append(versions, m.version)
	}
	return versions, nil
}

func pendingScripts(db *sql.DB) ([]migration, error) {
	if err := ensureMigrationsTable(db); err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}
	applied, err := appliedVersions(db)
	if err != nil {
		return nil, fmt.Errorf("get applied versions: %w", err)
	}
	scripts, err := loadScripts()
	if err != nil {
		return nil, fmt.Errorf("load migration scripts: %w", err)
	}
	return slices.DeleteFunc(scripts, func(m migration) bool { return applied[m.version] }), nil
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func appliedVersions(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query("SELECT version FROM _migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// loadScripts reads the embedded scripts sorted by version. Files that do
// not start with a numeric version are ignored.
func loadScripts() ([]migration, error) {
	entries, err := fs.ReadDir(FS, "scripts")
	if err != nil {
		return nil, err
	}

	var scripts []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, ok := parseVersion(entry.Name())
		if !ok {
			continue
		}
		// embed.FS paths always use forward slashes
		content, err := fs.ReadFile(FS, "scripts/"+entry.Name())
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, migration{version: version, name: entry.Name(), content: string(content)})
	}

	slices.SortFunc(scripts, func(a, b migration) int { return cmp.Compare(a.version, b.version) })
	return scripts, nil
}

func parseVersion(filename string) (int, bool) {
	prefix, _, _ := strings.Cut(filename, "_")
	v, err := strconv.Atoi(prefix)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func apply(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(m.content); err != nil {
		return fmt.Errorf("execute SQL: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO _migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}
