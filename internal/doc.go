// Package internal contains helpers that are private to mail2fa: numeric code
// generation, code hashing and input normalization.
//
// # Sub-packages
//
//   - audit — async event dispatch (Dispatcher + Sink implementations)
//   - stores — Redis-backed code, audit-log and template stores
//   - stores/pgstore — PostgreSQL implementations of the same stores
//
// # What this package must NOT do
//
//   - Export types that appear in the public mail2fa API.
//   - Log or persist plaintext codes.
package internal
