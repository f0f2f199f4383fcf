package notify

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the postgres migrations with sqlite alternatives under
// data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// MigrationsFS returns the embedded migration tree rooted at the module root.
func MigrationsFS() fs.FS {
	return migrationsFS
}
