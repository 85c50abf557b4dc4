// Package mail2fa issues, stores and checks short-lived numeric codes sent by
// email, to gate a login as a second factor and to confirm enabling that
// factor on an account.
//
// Engine methods are safe to call from multiple goroutines and from multiple
// processes sharing one store: every state change (replace a code, spend an
// attempt, consume a code) is a single atomic operation in Redis or
// PostgreSQL.
//
// # Architecture boundaries
//
// mail2fa is the public surface. It exposes [Engine], [Builder], [Config],
// the collaborator interfaces the host implements ([Directory], [Notifier],
// [TemplateStore], [ActivityLog]) and value types. Storage, hashing and audit
// dispatch live under internal/.
//
// # Lifecycle of a code
//
// A challenge purges the identity's expired code, reuses a live one or issues
// a fresh one, and sends it. Each verification spends one of three attempts
// before comparing. A match consumes the code; the third miss destroys it.
// [Engine.Sweep] removes codes expired for more than a day and audit entries
// older than thirty days.
//
// # What this package must NOT do
//
//   - Store or log a plaintext code.
//   - Tell a caller whether a code was missing, expired or exhausted.
//   - Return delivery failures from a challenge.
package mail2fa
