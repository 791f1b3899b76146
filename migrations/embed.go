// Package migrations embeds the SQLite migration files the saved-items
// store applies on open. Embedding makes them work regardless of working
// directory.
package migrations

import "embed"

// FS is the embedded migrations filesystem.
// Contains all .sql files in this directory (e.g. 001_initial.sql).
//
//go:embed *.sql
var FS embed.FS
