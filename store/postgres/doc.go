// Package postgres implements goIdentity.IdentityStore on PostgreSQL through
// a pgx connection pool.
//
// Identity IDs are UUIDs. Lookups by a string that is not a UUID report
// goIdentity.ErrIdentityNotFound rather than a driver error.
package postgres
