package migrations

import "embed"

// FS contains the catalog schema, one directory per SQL dialect.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
