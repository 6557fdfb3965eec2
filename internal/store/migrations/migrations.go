// Package migrations embeds the SQL schema migrations for the local cache.
package migrations

import "embed"

// FS holds the migration files, applied in lexical order.
//
//go:embed *.sql
var FS embed.FS
