// Package storage defines persistence contracts for identity assets:
// users, pending WebAuthn challenges, and registered credentials.
//
// These interfaces exist so API handlers and ceremony orchestration can
// depend on stable domain semantics without coupling to SQLite schema
// details.
package storage
