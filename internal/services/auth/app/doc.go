// Package server composes and runs the auth process boundary.
//
// It hosts the passkey HTTP endpoints over a shared SQLite store so every
// identity decision is made from one source of truth.
package server
