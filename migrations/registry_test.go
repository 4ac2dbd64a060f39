package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}
	for _, entry := range filesystems {
		matches, _ := fs.Glob(entry.FS, "*.sql")
		if len(matches) != 2 {
			t.Fatalf("expected 2 %s migrations, got %v", entry.Dialect, matches)
		}
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	_, err := Register(context.Background(), func(_ context.Context, dialect string, _ string, _ fs.FS) error {
		calls = append(calls, dialect)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(calls) != 1 || calls[0] != DialectSQLite {
		t.Fatalf("expected sqlite registration only, got %v", calls)
	}
}

func TestApply_CreatesTablesAndIsIdempotent(t *testing.T) {
	dsn := fmt.Sprintf("file:migrations-test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := Apply(ctx, db, "sqlite3"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := Apply(ctx, db, "sqlite3"); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	for _, table := range []string{"fiware_sync_states", "fiware_sync_cycles"} {
		var name string
		if err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name); err != nil {
			t.Fatalf("expected table %s: %v", table, err)
		}
	}
}

func TestNormalizeDialect(t *testing.T) {
	cases := map[string]string{
		"sqlite3":  DialectSQLite,
		"Postgres": DialectPostgres,
		"pgx":      DialectPostgres,
	}
	for input, expected := range cases {
		if got := NormalizeDialect(input); got != expected {
			t.Fatalf("NormalizeDialect(%q) = %q, want %q", input, got, expected)
		}
	}
}
