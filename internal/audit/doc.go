// Package audit keeps a durable, queryable trail of security events.
//
// Recorder implements auth.EventRecorder and writes every event it receives
// to the audit_logs table. Writes are detached from the request context so
// a client disconnect never loses a reuse or revocation record.
package audit
