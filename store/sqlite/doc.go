// Package sqlite implements goIdentity.IdentityStore on SQLite using the
// pure-Go modernc.org/sqlite driver. Call ApplyMigrations once after Open to
// create or upgrade the schema.
package sqlite
