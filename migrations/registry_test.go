package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"sort"
	"strings"
	"testing"
	"testing/fstest"

	notify "github.com/goliatone/go-notify"
	_ "github.com/mattn/go-sqlite3"
)

func TestSources_ReturnsPostgresAndSQLite(t *testing.T) {
	sources, err := Sources()
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].Dialect != DialectPostgres || sources[1].Dialect != DialectSQLite {
		t.Fatalf("unexpected dialect order %q, %q", sources[0].Dialect, sources[1].Dialect)
	}
	if sources[1].Path != "data/sql/migrations/sqlite" {
		t.Fatalf("unexpected sqlite path %q", sources[1].Path)
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	reg, err := Register(context.Background(), func(_ context.Context, dialect string, label string, _ fs.FS) error {
		calls = append(calls, dialect+"@"+label)
		return nil
	}, WithValidationTargets(" SQLite "), WithLabel("notify-tests"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(calls) != 1 || calls[0] != "sqlite@notify-tests" {
		t.Fatalf("expected one sqlite registration, got %v", calls)
	}
	if reg.Label != "notify-tests" {
		t.Fatalf("expected label to be recorded, got %q", reg.Label)
	}
}

func TestSources_RejectsTreeWithoutUpMigrations(t *testing.T) {
	tree := fstest.MapFS{
		"data/sql/migrations/00001_x.up.sql":          {Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00001_x.down.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := Sources(tree); err == nil {
		t.Fatalf("expected missing sqlite up migration to fail")
	}
}

func TestMigrationPairs_ExistForBothDialects(t *testing.T) {
	root := notify.MigrationsFS()
	for _, name := range []string{"00001_notify_channels_schema", "00002_notify_webhooks_schema"} {
		for _, dir := range []string{"data/sql/migrations/", "data/sql/migrations/sqlite/"} {
			for _, suffix := range []string{".up.sql", ".down.sql"} {
				path := dir + name + suffix
				content, err := fs.ReadFile(root, path)
				if err != nil {
					t.Fatalf("read migration %s: %v", path, err)
				}
				if strings.TrimSpace(string(content)) == "" {
					t.Fatalf("expected migration %s to have SQL content", path)
				}
			}
		}
	}
}

func TestSQLiteMigrations_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:notify-migrations?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	sqliteFS, err := fs.Sub(notify.MigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	ups, _ := fs.Glob(sqliteFS, "*.up.sql")
	downs, _ := fs.Glob(sqliteFS, "*.down.sql")
	sort.Strings(ups)
	sort.Sort(sort.Reverse(sort.StringSlice(downs)))

	for _, name := range ups {
		execFile(t, db, sqliteFS, name)
	}
	for _, table := range []string{"notify_channels", "notify_user_preferences", "notify_audit_entries", "webhook_endpoints", "webhook_events", "webhook_event_outcomes"} {
		if !tableExists(t, db, table) {
			t.Fatalf("expected table %s after up migrations", table)
		}
	}

	if _, err := db.Exec(`INSERT INTO webhook_endpoints (id, path, auth_method, target_kind, target_id) VALUES ('a', '/hooks/a', 'none', 'agent', 'x')`); err != nil {
		t.Fatalf("insert endpoint: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO webhook_endpoints (id, path, auth_method, target_kind, target_id) VALUES ('b', '/hooks/a', 'none', 'agent', 'y')`); err == nil {
		t.Fatalf("expected endpoint path uniqueness to be enforced")
	}

	for _, name := range downs {
		execFile(t, db, sqliteFS, name)
	}
	if tableExists(t, db, "webhook_events") || tableExists(t, db, "notify_channels") {
		t.Fatalf("expected tables to be dropped after down migrations")
	}
}

func execFile(t *testing.T, db *sql.DB, fsys fs.FS, name string) {
	t.Helper()
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	if _, err := db.Exec(string(content)); err != nil {
		t.Fatalf("exec %s: %v", name, err)
	}
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	return name == table
}
