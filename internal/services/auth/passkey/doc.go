// Package passkey holds WebAuthn relying party configuration.
//
// It defines the challenge kinds shared by storage and the ceremony
// flows, and loads the relying party identity and origin allow-list
// the ceremonies are scoped to.
package passkey
