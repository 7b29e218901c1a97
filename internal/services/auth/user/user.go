// Package user provides auth user management.
package user

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuthMethodPasskey marks identities minted by the passkey registration flow.
const AuthMethodPasskey = "passkey"

// syntheticContactDomain is the reserved domain for placeholder contacts.
// Passkey users never supply a contact address, so the flow derives one
// from the user id to satisfy the unique contact constraint.
const syntheticContactDomain = "passkey.local"

// User represents an authenticated identity record.
type User struct {
	ID         string
	Contact    string
	AuthMethod string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreatePasskeyUser mints a fresh identity for a completed passkey
// registration. The id is a random UUID and the contact is a synthetic
// address under a reserved domain that no mail ever reaches.
func CreatePasskeyUser(now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = newUUID
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	createdAt := now().UTC()
	return User{
		ID:         userID,
		Contact:    fmt.Sprintf("%s@%s", userID, syntheticContactDomain),
		AuthMethod: AuthMethodPasskey,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}, nil
}

func newUUID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
