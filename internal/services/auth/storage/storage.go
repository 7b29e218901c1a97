package storage

import (
	"context"
	"time"

	"github.com/murmurapp/murmur/internal/platform/errors"
	"github.com/murmurapp/murmur/internal/services/auth/passkey"
	"github.com/murmurapp/murmur/internal/services/auth/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrDuplicate indicates an insert collided with an existing record.
var ErrDuplicate = errors.New(errors.CodeCredentialStoreFailed, "record already exists")

// UserStore persists auth user records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	// DeleteUser removes a user record. Registration uses it to undo
	// identity creation when the credential insert fails afterwards.
	DeleteUser(ctx context.Context, userID string) error
}

// Challenge stores a pending WebAuthn ceremony nonce.
//
// Value is the base64url challenge the authenticator must sign. UserHandle
// is the base64url user handle minted at registration start and is empty
// for login challenges.
type Challenge struct {
	ID         string
	Kind       passkey.ChallengeKind
	Value      string
	UserHandle string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Credential stores a verified WebAuthn credential bound to a user.
//
// CredentialID and PublicKey are base64url without padding. Counter holds
// the last accepted signature counter.
type Credential struct {
	CredentialID   string
	UserID         string
	PublicKey      string
	Counter        uint32
	Transports     []string
	AAGUID         string
	AttestationFmt string
	BackupEligible bool
	BackupState    bool
	CreatedAt      time.Time
	LastUsedAt     time.Time
}

// ChallengeStore persists single-use WebAuthn challenges.
type ChallengeStore interface {
	PutChallenge(ctx context.Context, challenge Challenge) error
	GetChallenge(ctx context.Context, id string) (Challenge, error)
	// ConsumeChallenge deletes the challenge and reports whether a row
	// existed. Concurrent finishes race on this delete, so only one
	// caller observes existed == true.
	ConsumeChallenge(ctx context.Context, id string) (existed bool, err error)
	DeleteExpiredChallenges(ctx context.Context, now time.Time) error
}

// CredentialStore persists WebAuthn credentials.
type CredentialStore interface {
	// InsertCredential stores a new credential. It returns ErrDuplicate
	// when the credential id is already registered.
	InsertCredential(ctx context.Context, credential Credential) error
	GetCredential(ctx context.Context, credentialID string) (Credential, error)
	ListCredentialsByUser(ctx context.Context, userID string) ([]Credential, error)
	// UpdateCredentialUsage advances the signature counter and last used
	// time only when the stored counter still equals prevCounter. It
	// reports whether the row was updated.
	UpdateCredentialUsage(ctx context.Context, credentialID string, prevCounter, newCounter uint32, usedAt time.Time) (updated bool, err error)
	DeleteCredential(ctx context.Context, credentialID string) error
}
