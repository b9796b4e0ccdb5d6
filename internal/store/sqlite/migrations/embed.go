// Package migrations embeds the SQL migrations for the sqlite store.
package migrations

import "embed"

// FS holds the migration files. Names start with the version number.
//
//go:embed *.sql
var FS embed.FS
