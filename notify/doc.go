// Package notify delivers codes and account notices to users.
//
// The engine never waits on delivery: [Async] queues messages for a small
// worker pool and only logs failures. [Throttled] limits how often codes go
// to one destination and answers synchronously, so the caller can report a
// retry time. [SMTP] sends email through github.com/go-mail/mail and hands
// SMS to an [SMSSender]; [Log] and [Recorder] serve development and tests.
//
// # What this package must NOT do
//
//   - Log codes or confirmation tokens.
//   - Decide when a notice is due; the engine does.
package notify
