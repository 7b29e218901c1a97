// Package user defines the auth user model used as the shared identity anchor.
//
// Passkey registration mints identities here so every credential row points at
// a stable user id with a synthetic contact placeholder.
package user
