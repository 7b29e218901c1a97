package flow

import (
	"context"
	"encoding/base64"
	"log"
	"time"

	apperrors "github.com/murmurapp/murmur/internal/platform/errors"
	"github.com/murmurapp/murmur/internal/platform/id"
	"github.com/murmurapp/murmur/internal/services/auth/passkey"
	"github.com/murmurapp/murmur/internal/services/auth/session"
	"github.com/murmurapp/murmur/internal/services/auth/storage"
	"github.com/murmurapp/murmur/internal/services/auth/user"
)

// Registration orchestrates the passkey registration ceremony. A
// successful finish creates a fresh identity, stores the verified
// credential, and mints a session in one pass.
type Registration struct {
	provider Provider
	store    Store
	sessions SessionMinter
	ttl      time.Duration

	// Injectable for tests.
	clock          func() time.Time
	newChallengeID func() (string, error)
	newUserHandle  func() ([]byte, error)
}

// NewRegistration wires a registration flow with production defaults.
func NewRegistration(provider Provider, store Store, sessions SessionMinter, challengeTTL time.Duration) *Registration {
	return &Registration{
		provider:       provider,
		store:          store,
		sessions:       sessions,
		ttl:            challengeTTL,
		clock:          time.Now,
		newChallengeID: id.NewID,
		newUserHandle:  newUserHandle,
	}
}

// Start mints a user handle and a single-use challenge, then returns the
// credential creation options the client feeds to its authenticator.
func (r *Registration) Start(ctx context.Context) (result StartResult, err error) {
	ctx, span := tracer.Start(ctx, "passkey.registration.start")
	defer func() { endSpan(span, err) }()

	handle, err := r.newUserHandle()
	if err != nil {
		return StartResult{}, apperrors.Wrap(err, apperrors.CodeUnknown, "generate user handle")
	}

	options, challengeValue, err := r.provider.BeginRegistration(handle)
	if err != nil {
		return StartResult{}, apperrors.Wrap(err, apperrors.CodeUnknown, "begin registration")
	}

	challengeID, err := r.newChallengeID()
	if err != nil {
		return StartResult{}, apperrors.Wrap(err, apperrors.CodeUnknown, "generate challenge id")
	}

	now := r.clock().UTC()
	challenge := storage.Challenge{
		ID:         challengeID,
		Kind:       passkey.ChallengeKindRegister,
		Value:      challengeValue,
		UserHandle: base64.RawURLEncoding.EncodeToString(handle),
		CreatedAt:  now,
		ExpiresAt:  now.Add(r.ttl),
	}
	if err := r.store.PutChallenge(ctx, challenge); err != nil {
		return StartResult{}, apperrors.Wrap(err, apperrors.CodeUnknown, "store challenge")
	}

	return StartResult{ChallengeID: challengeID, Options: options}, nil
}

// Finish verifies the attestation response against the issued challenge
// and commits the new identity.
func (r *Registration) Finish(ctx context.Context, challengeID string, response []byte) (token session.Token, err error) {
	ctx, span := tracer.Start(ctx, "passkey.registration.finish")
	defer func() { endSpan(span, err) }()

	challenge, err := loadChallenge(ctx, r.store, r.clock, challengeID, passkey.ChallengeKindRegister)
	if err != nil {
		return session.Token{}, err
	}
	if challenge.UserHandle == "" {
		return session.Token{}, apperrors.New(apperrors.CodeChallengeMissingUserHandle, "challenge is missing its user handle")
	}
	handle, err := base64.RawURLEncoding.DecodeString(challenge.UserHandle)
	if err != nil {
		return session.Token{}, apperrors.Wrap(err, apperrors.CodeChallengeMissingUserHandle, "decode user handle")
	}

	verified, err := r.provider.VerifyRegistration(response, challenge.Value, handle)
	if err != nil {
		return session.Token{}, err
	}

	// Prefer the id the client asserted so lookups at login match the
	// browser's encoding. Fall back to the verifier's raw id.
	credentialID := clientCredentialID(response)
	if credentialID == "" {
		if len(verified.CredentialID) == 0 {
			return session.Token{}, apperrors.New(apperrors.CodeCredentialIDExtractionFailed, "could not determine credential id")
		}
		credentialID = encodeCredentialID(verified.CredentialID)
	}

	newUser, err := user.CreatePasskeyUser(r.clock, nil)
	if err != nil {
		return session.Token{}, apperrors.Wrap(err, apperrors.CodeIdentityCreationFailed, "create user")
	}
	if err := r.store.PutUser(ctx, newUser); err != nil {
		return session.Token{}, apperrors.Wrap(err, apperrors.CodeIdentityCreationFailed, "store user")
	}

	now := r.clock().UTC()
	record := storage.Credential{
		CredentialID:   credentialID,
		UserID:         newUser.ID,
		PublicKey:      base64.RawURLEncoding.EncodeToString(verified.PublicKey),
		Counter:        verified.Counter,
		Transports:     verified.Transports,
		AAGUID:         base64.RawURLEncoding.EncodeToString(verified.AAGUID),
		AttestationFmt: verified.AttestationFmt,
		BackupEligible: verified.BackupEligible,
		BackupState:    verified.BackupState,
		CreatedAt:      now,
		LastUsedAt:     now,
	}
	if err := r.store.InsertCredential(ctx, record); err != nil {
		// The identity row is useless without its credential. Undo it
		// so a retry can start clean.
		if deleteErr := r.store.DeleteUser(ctx, newUser.ID); deleteErr != nil {
			log.Printf("delete orphaned user %s: %v", newUser.ID, deleteErr)
		}
		return session.Token{}, apperrors.Wrap(err, apperrors.CodeCredentialStoreFailed, "store credential")
	}

	if err := consumeChallenge(ctx, r.store, challenge.ID); err != nil {
		// A concurrent finish spent the challenge first. Undo this
		// loser's writes so only the winner's identity survives. The
		// ids cannot collide with the winner's: a duplicate credential
		// would have failed the insert above.
		if deleteErr := r.store.DeleteCredential(ctx, credentialID); deleteErr != nil {
			log.Printf("delete credential %s after challenge race: %v", credentialID, deleteErr)
		}
		if deleteErr := r.store.DeleteUser(ctx, newUser.ID); deleteErr != nil {
			log.Printf("delete user %s after challenge race: %v", newUser.ID, deleteErr)
		}
		return session.Token{}, err
	}

	token, err = r.sessions.Issue(newUser.ID)
	if err != nil {
		return session.Token{}, apperrors.Wrap(err, apperrors.CodeSessionMintFailed, "mint session")
	}
	return token, nil
}
