// Package audit implements async event dispatching for code issuance, delivery
// and verification outcomes.
//
// # Components
//
//   - [Sink] — interface for event consumers (channel, JSON writer, no-op).
//   - [Dispatcher] — buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event] — structured record with timestamp, type, identity, source address, metadata.
//
// These events are an operator stream. The persisted login trail (AuditLogEntry)
// is written synchronously by the code stores and is unrelated to this package.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Carry plaintext codes in events or metadata.
//   - Import mail2fa or any sibling internal package.
package audit
