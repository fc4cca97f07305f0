// Package migrations embeds the PostgreSQL schema for the identity store.
package migrations

import "embed"

// FS holds the *_up.sql files applied by postgres.Store.ApplyMigrations.
//
//go:embed *.sql
var FS embed.FS
