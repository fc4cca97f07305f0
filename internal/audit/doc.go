// Package audit implements async delivery of security decisions to sinks.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON lines, zap, no-op).
//   - [Dispatcher]: buffered relay that either drops or blocks when full.
//   - [Event]: timestamp, type, identity, client metadata, outcome.
//
// # What this package must NOT do
//
//   - Decide which events exist; the engine does that.
//   - Import goIdentity or any sibling internal package.
package audit
