package flow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	apperrors "github.com/murmurapp/murmur/internal/platform/errors"
	"github.com/murmurapp/murmur/internal/platform/id"
	"github.com/murmurapp/murmur/internal/services/auth/passkey"
	"github.com/murmurapp/murmur/internal/services/auth/session"
	"github.com/murmurapp/murmur/internal/services/auth/storage"
)

// Login orchestrates the discoverable passkey login ceremony. The client
// never names a user up front; the credential the authenticator asserts
// resolves the identity.
type Login struct {
	provider Provider
	store    Store
	sessions SessionMinter
	ttl      time.Duration

	// Injectable for tests.
	clock          func() time.Time
	newChallengeID func() (string, error)
}

// NewLogin wires a login flow with production defaults.
func NewLogin(provider Provider, store Store, sessions SessionMinter, challengeTTL time.Duration) *Login {
	return &Login{
		provider:       provider,
		store:          store,
		sessions:       sessions,
		ttl:            challengeTTL,
		clock:          time.Now,
		newChallengeID: id.NewID,
	}
}

// Start mints a single-use challenge and returns the assertion options
// for a usernameless login.
func (l *Login) Start(ctx context.Context) (result StartResult, err error) {
	ctx, span := tracer.Start(ctx, "passkey.login.start")
	defer func() { endSpan(span, err) }()

	options, challengeValue, err := l.provider.BeginLogin()
	if err != nil {
		return StartResult{}, apperrors.Wrap(err, apperrors.CodeUnknown, "begin login")
	}

	challengeID, err := l.newChallengeID()
	if err != nil {
		return StartResult{}, apperrors.Wrap(err, apperrors.CodeUnknown, "generate challenge id")
	}

	now := l.clock().UTC()
	challenge := storage.Challenge{
		ID:        challengeID,
		Kind:      passkey.ChallengeKindLogin,
		Value:     challengeValue,
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
	}
	if err := l.store.PutChallenge(ctx, challenge); err != nil {
		return StartResult{}, apperrors.Wrap(err, apperrors.CodeUnknown, "store challenge")
	}

	return StartResult{ChallengeID: challengeID, Options: options}, nil
}

// Finish verifies the assertion response, advances the replay counter,
// and mints a session for the credential's owner.
func (l *Login) Finish(ctx context.Context, challengeID string, response []byte) (token session.Token, err error) {
	ctx, span := tracer.Start(ctx, "passkey.login.finish")
	defer func() { endSpan(span, err) }()

	challenge, err := loadChallenge(ctx, l.store, l.clock, challengeID, passkey.ChallengeKindLogin)
	if err != nil {
		return session.Token{}, err
	}

	credentialID, err := assertedCredentialID(response)
	if err != nil {
		return session.Token{}, err
	}

	stored, err := l.store.GetCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return session.Token{}, apperrors.New(apperrors.CodeCredentialUnknown, "unknown credential")
		}
		return session.Token{}, apperrors.Wrap(err, apperrors.CodeUnknown, "load credential")
	}

	verified, err := l.provider.VerifyLogin(response, challenge.Value, stored)
	if err != nil {
		return session.Token{}, err
	}

	// A counter that fails to advance on an authenticator that has ever
	// reported one is a cloned-credential signal. Authenticators that
	// never increment report zero on both sides and pass.
	if verified.CloneWarning || (stored.Counter > 0 && verified.NewCounter <= stored.Counter) {
		return session.Token{}, apperrors.New(apperrors.CodeCredentialInvalid, "credential replay detected")
	}

	updated, err := l.store.UpdateCredentialUsage(ctx, credentialID, stored.Counter, verified.NewCounter, l.clock().UTC())
	if err != nil {
		return session.Token{}, apperrors.Wrap(err, apperrors.CodeCredentialStoreFailed, "update credential usage")
	}
	if !updated {
		// A concurrent login moved the counter first.
		return session.Token{}, apperrors.New(apperrors.CodeCredentialInvalid, "credential was used concurrently")
	}

	if err := consumeChallenge(ctx, l.store, challenge.ID); err != nil {
		return session.Token{}, err
	}

	token, err = l.sessions.Issue(stored.UserID)
	if err != nil {
		return session.Token{}, apperrors.Wrap(err, apperrors.CodeSessionMintFailed, "mint session")
	}
	return token, nil
}

// assertedCredentialID pulls the credential id out of the assertion
// payload so the stored credential can be looked up before verification.
func assertedCredentialID(response []byte) (string, error) {
	var envelope struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(response, &envelope); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeCredentialIDMissing, "parse login response")
	}
	if envelope.ID == "" {
		return "", apperrors.New(apperrors.CodeCredentialIDMissing, "credential id is required")
	}
	normalized, err := normalizeCredentialID(envelope.ID)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeCredentialIDMissing, "normalize credential id")
	}
	return normalized, nil
}
