// Package auth defines the identity boundary used across the platform.
//
// It is the single place that owns user lifecycle, passkey credentials,
// and session issuance so other services can depend on stable user IDs
// and signed sessions instead of re-implementing identity rules.
//
// Subpackages:
//   - app: auth server wiring and lifecycle
//   - api/httpapi: JSON HTTP handlers for the WebAuthn ceremonies
//   - flow: registration and login ceremony orchestration
//   - passkey: relying party configuration and challenge kinds
//   - session: access token minting for verified users
//   - storage: persistence interfaces and SQLite implementations
//   - user: user domain model and helpers
package auth
