package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

//go:embed sql/postgres/*.sql sql/sqlite/*.sql
var migrationsFS embed.FS

// goose keeps its base filesystem and dialect in package globals.
var gooseMu sync.Mutex

type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Filesystems       []FilesystemSpec
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

func WithDialectSourceLabel(label string) Option {
	return func(r *Registration) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			r.SourceLabel = trimmed
		}
	}
}

func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		next := dedupe(targets)
		if len(next) > 0 {
			r.ValidationTargets = next
		}
	}
}

// Filesystems returns the embedded goose migration tree for every dialect.
func Filesystems() ([]FilesystemSpec, error) {
	filesystems := make([]FilesystemSpec, 0, 2)
	for _, dialect := range []string{DialectPostgres, DialectSQLite} {
		path := "sql/" + dialect
		sub, err := fs.Sub(migrationsFS, path)
		if err != nil {
			return nil, fmt.Errorf("migrations: resolve %s filesystem: %w", dialect, err)
		}
		matches, err := fs.Glob(sub, "*.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: glob %s: %w", path, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s filesystem %q has no *.sql files", dialect, path)
		}
		filesystems = append(filesystems, FilesystemSpec{Dialect: dialect, Path: path, FS: sub})
	}
	return filesystems, nil
}

// Register hands every targeted dialect filesystem to registerFn.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       "fiware-sync",
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}
	filesystems, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = filesystems
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}
	for _, fsys := range reg.Filesystems {
		if !slices.Contains(reg.ValidationTargets, fsys.Dialect) {
			continue
		}
		if err := registerFn(ctx, fsys.Dialect, reg.SourceLabel, fsys.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", fsys.Dialect, fsys.Path, err)
		}
	}
	return reg, nil
}

// Apply runs every pending goose migration for dialect against db.
func Apply(ctx context.Context, db *sql.DB, dialect string) error {
	if db == nil {
		return fmt.Errorf("migrations: sql db is required")
	}
	dialect = NormalizeDialect(dialect)
	_, err := Register(ctx, func(ctx context.Context, dialect string, _ string, fsys fs.FS) error {
		gooseMu.Lock()
		defer gooseMu.Unlock()
		goose.SetBaseFS(fsys)
		defer goose.SetBaseFS(nil)
		if err := goose.SetDialect(gooseDialect(dialect)); err != nil {
			return err
		}
		return goose.UpContext(ctx, db, ".")
	}, WithValidationTargets(dialect))
	return err
}

// NormalizeDialect maps driver names onto the dialects migrations ship for.
func NormalizeDialect(dialect string) string {
	switch strings.TrimSpace(strings.ToLower(dialect)) {
	case "sqlite", "sqlite3":
		return DialectSQLite
	case "postgres", "postgresql", "pg", "pgx":
		return DialectPostgres
	default:
		return strings.TrimSpace(strings.ToLower(dialect))
	}
}

func gooseDialect(dialect string) string {
	if dialect == DialectSQLite {
		return "sqlite3"
	}
	return dialect
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(strings.ToLower(value))
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
