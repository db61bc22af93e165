package db

import "embed"

// migrationsFS carries the schema migrations inside the binary so a
// sensor in the field never depends on files shipped next to it.
//
//go:embed migrations
var migrationsFS embed.FS

// getMigrationsFS returns the embedded migration files.
func getMigrationsFS() embed.FS {
	return migrationsFS
}
