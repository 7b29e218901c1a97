// Package sqlite provides SQLite-backed auth persistence.
//
// It is the default on-disk identity store for the auth service and
// implements the user, challenge, and credential contracts with a
// single embedded migration set.
package sqlite
