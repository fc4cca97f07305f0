// Package rate implements multi-window sliding-log rate limiting.
//
// # Window semantics
//
// Each [Policy] has attempt windows and failure windows. A key is limited
// when any window already holds Max entries newer than now-Duration. The
// retry hint is the longest wait among the violated windows. Rejected
// attempts are not logged, so a caller hammering a limited key does not
// extend its own ban.
//
// Keys:
//   - rl:{<policy>:<subject>}:a attempt log
//   - rl:{<policy>:<subject>}:f failure log
//
// Redis logs are sorted sets updated by one Lua script per call, atomic
// across every window. The memory backend keeps logs behind a mutex and lets
// go-cache expire idle keys.
//
// # What this package must NOT do
//
//   - Decide which policy guards which operation; the engine does.
//   - Be imported outside the goIdentity module.
package rate
