// Package flow orchestrates passkey registration and login ceremonies.
//
// Each ceremony runs as a start/finish pair bound by a stored single-use
// challenge. Finish verifies the authenticator response, commits identity
// state, and mints a session token.
package flow
