// Package pgstore implements the mail2fa code, audit-log and template stores
// on PostgreSQL through pgx.
//
// Issuance runs in a transaction that takes a transaction-scoped advisory lock
// on the identity before deleting and re-inserting, and the identity column is
// unique, so two processes can never both leave a record behind. Attempts are
// spent with a conditional UPDATE ... RETURNING. Bulk deletes run in bounded
// batches so the retention sweep never holds row locks for long.
package pgstore
