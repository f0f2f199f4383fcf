// Package migrations exposes the embedded notify schema per SQL dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	notify "github.com/goliatone/go-notify"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	migrationsDir = "data/sql/migrations"
)

// Source is one dialect's migration directory.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type Registration struct {
	Label   string
	Targets []string
	Sources []Source
}

// RegisterFunc receives every source whose dialect is a registration target.
type RegisterFunc func(ctx context.Context, dialect string, label string, fsys fs.FS) error

type Option func(*Registration)

func WithLabel(label string) Option {
	return func(r *Registration) {
		if label = strings.TrimSpace(label); label != "" {
			r.Label = label
		}
	}
}

func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		if normalized := normalizeDialects(targets); len(normalized) > 0 {
			r.Targets = normalized
		}
	}
}

// WithSources replaces the embedded sources, mostly for downstream modules
// that ship their own tree.
func WithSources(sources ...Source) Option {
	return func(r *Registration) {
		kept := make([]Source, 0, len(sources))
		for _, source := range sources {
			dialect := strings.ToLower(strings.TrimSpace(source.Dialect))
			if dialect == "" || source.FS == nil {
				continue
			}
			source.Dialect = dialect
			kept = append(kept, source)
		}
		if len(kept) > 0 {
			r.Sources = kept
		}
	}
}

// Sources splits root (default: the embedded tree) into the postgres and
// sqlite directories. Each must hold at least one *.up.sql file.
func Sources(root ...fs.FS) ([]Source, error) {
	tree := notify.MigrationsFS()
	if len(root) > 0 && root[0] != nil {
		tree = root[0]
	}
	base, basePath, err := locate(tree)
	if err != nil {
		return nil, err
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: sqlite directory: %w", err)
	}
	sqlitePath := "sqlite"
	if basePath != "." {
		sqlitePath = basePath + "/sqlite"
	}
	sources := []Source{
		{Dialect: DialectPostgres, Path: basePath, FS: base},
		{Dialect: DialectSQLite, Path: sqlitePath, FS: sqliteFS},
	}
	for _, source := range sources {
		ups, err := fs.Glob(source.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: glob %s: %w", source.Path, err)
		}
		if len(ups) == 0 {
			return nil, fmt.Errorf("migrations: %s directory %q has no *.up.sql files", source.Dialect, source.Path)
		}
	}
	return sources, nil
}

// Register hands each targeted dialect source to registerFn.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		Label:   "go-notify",
		Targets: []string{DialectPostgres, DialectSQLite},
	}
	sources, err := Sources()
	if err != nil {
		return reg, err
	}
	reg.Sources = sources
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}
	for _, source := range reg.Sources {
		if !slices.Contains(reg.Targets, source.Dialect) {
			continue
		}
		if err := registerFn(ctx, source.Dialect, reg.Label, source.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", source.Dialect, source.Path, err)
		}
	}
	return reg, nil
}

func locate(root fs.FS) (fs.FS, string, error) {
	if _, err := fs.Stat(root, migrationsDir); err == nil {
		sub, subErr := fs.Sub(root, migrationsDir)
		if subErr != nil {
			return nil, "", fmt.Errorf("migrations: %w", subErr)
		}
		return sub, migrationsDir, nil
	}
	if matches, _ := fs.Glob(root, "*.sql"); len(matches) > 0 {
		return root, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found", migrationsDir)
}

func normalizeDialects(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value != "" && !slices.Contains(out, value) {
			out = append(out, value)
		}
	}
	return out
}
