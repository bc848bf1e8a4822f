// Package migrations embeds the schema migrations for the SQL store, one
// directory per dialect.
package migrations

import "embed"

//go:embed sqlite3/*.sql postgres/*.sql
var FS embed.FS
