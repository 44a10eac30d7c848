package migrations

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// scriptCount is the number of files under scripts/.
const scriptCount = 2

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRun(t *testing.T) {
	db := openTestDB(t)

	if err := Run(db); err != nil {
		t.Fatalf("first migration run: %v", err)
	}

	version, err := Version(db)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if version != scriptCount {
		t.Errorf("version = %d, want %d", version, scriptCount)
	}

	for _, table := range []string{"threads", "messages", "_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	var title string
	if err := db.QueryRow("SELECT name FROM pragma_table_info('threads') WHERE name = 'title'").Scan(&title); err != nil {
		t.Errorf("threads.title column missing: %v", err)
	}
}

func TestRun_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := Run(db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := Run(db); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != scriptCount {
		t.Errorf("migration count = %d, want %d", count, scriptCount)
	}
}

func TestPending(t *testing.T) {
	db := openTestDB(t)

	if err := ensureMigrationsTable(db); err != nil {
		t.Fatalf("ensure migrations table: %v", err)
	}

	pending, err := Pending(db)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != scriptCount || pending[0] != 1 {
		t.Errorf("pending = %v, want %d versions starting at 1", pending, scriptCount)
	}

	if err := Run(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	pending, err = Pending(db)
	if err != nil {
		t.Fatalf("get pending after run: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending count after run = %d, want 0", len(pending))
	}
}

func TestPending_FreshDB(t *testing.T) {
	db := openTestDB(t)

	pending, err := Pending(db)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != scriptCount {
		t.Errorf("pending = %v, want %d versions", pending, scriptCount)
	}
	if version, err := Version(db); err != nil || version != 0 {
		t.Errorf("Version() = %d, %v; want 0", version, err)
	}
}

func TestVersion_EmptyDB(t *testing.T) {
	db := openTestDB(t)
	if err := ensureMigrationsTable(db); err != nil {
		t.Fatalf("ensure migrations table: %v", err)
	}

	version, err := Version(db)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if version != 0 {
		t.Errorf("version = %d, want 0", version)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name string
		want int
		ok   bool
	}{
		{"001_init.sql", 1, true},
		{"12_add_index.sql", 12, true},
		{"init.sql", 0, false},
		{"000_zero.sql", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseVersion(tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseVersion(%q) = %d, %v; want %d, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}
