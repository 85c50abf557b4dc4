// Package stores provides Redis-backed persistence for verification codes, the
// login audit trail and message templates.
//
// # Design
//
// A code record is a Redis hash keyed by identity, so "at most one record per
// identity" holds by construction. Every mutation (issue, attempt, consume,
// purge) is a single Lua script, which makes delete+insert and the attempt
// increment atomic across processes without any in-process locking. A sorted
// set indexes records by expiry for the retention sweep, which walks it in
// small batches.
//
// All keys share the {prefix} hash tag so scripts touching two keys remain
// valid on Redis Cluster.
//
// The PostgreSQL implementations in stores/pgstore satisfy the same contract
// and reuse the record types and sentinel errors defined here.
//
// # What this package must NOT do
//
//   - Import mail2fa or any sibling internal package.
//   - See or persist plaintext codes; callers hand in hashes only.
//   - Decide whether a guess is correct. Comparison belongs to the engine.
package stores
