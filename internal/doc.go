// Package internal holds the random and hashing helpers shared by the engine
// and its subpackages: opaque tokens, delivered OTP codes and backup codes.
//
// # Sub-packages
//
//   - audit: asynchronous event dispatch to an AuditSink
//   - flows: the login, challenge, refresh, verify and OAuth orchestrators
//   - logging: zap field helpers and context-scoped loggers
//   - rate: multi-window rate limiting on memory or Redis
//   - security: the configuration report behind Engine.SecurityReport
//   - stores: short-lived challenge, setup, OAuth state and email-change records
//
// # What this package must NOT do
//
//   - Export types that appear in the public goIdentity API.
package internal
