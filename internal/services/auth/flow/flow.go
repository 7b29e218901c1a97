package flow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/murmurapp/murmur/internal/platform/errors"
	"github.com/murmurapp/murmur/internal/services/auth/passkey"
	"github.com/murmurapp/murmur/internal/services/auth/session"
	"github.com/murmurapp/murmur/internal/services/auth/storage"
)

// userHandleSize is the length of the random user handle minted at
// registration start. WebAuthn caps handles at 64 bytes.
const userHandleSize = 32

var tracer = otel.Tracer("github.com/murmurapp/murmur/internal/services/auth/flow")

// endSpan records the outcome of a ceremony step on its span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	span.End()
}

// Store bundles the persistence surfaces the ceremony flows depend on.
type Store interface {
	storage.ChallengeStore
	storage.CredentialStore
	storage.UserStore
}

// SessionMinter issues access tokens for verified identities.
type SessionMinter interface {
	Issue(userID string) (session.Token, error)
}

// StartResult is the output of a ceremony start: the options payload for
// the client and the server-side challenge reference the finish call must
// present.
type StartResult struct {
	ChallengeID string
	Options     json.RawMessage
}

// loadChallenge fetches a challenge and enforces kind and expiry. Expired
// rows are consumed eagerly so they cannot linger until the sweeper runs.
func loadChallenge(ctx context.Context, store storage.ChallengeStore, clock func() time.Time, id string, kind passkey.ChallengeKind) (storage.Challenge, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.Challenge{}, apperrors.New(apperrors.CodeChallengeInvalid, "challenge id is required")
	}

	challenge, err := store.GetChallenge(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Challenge{}, apperrors.New(apperrors.CodeChallengeInvalid, "invalid or expired challenge")
		}
		return storage.Challenge{}, apperrors.Wrap(err, apperrors.CodeUnknown, "load challenge")
	}
	if challenge.Kind != kind {
		return storage.Challenge{}, apperrors.New(apperrors.CodeChallengeKindMismatch, "challenge was issued for a different ceremony")
	}
	if !clock().UTC().Before(challenge.ExpiresAt) {
		_, _ = store.ConsumeChallenge(ctx, id)
		return storage.Challenge{}, apperrors.New(apperrors.CodeChallengeExpired, "challenge has expired")
	}
	return challenge, nil
}

// consumeChallenge enforces single use after a verified ceremony. A missing
// row means a concurrent finish already spent the challenge. Storage
// failures at this point do not fail an otherwise verified ceremony.
func consumeChallenge(ctx context.Context, store storage.ChallengeStore, id string) error {
	existed, err := store.ConsumeChallenge(ctx, id)
	if err != nil {
		log.Printf("consume challenge %s: %v", id, err)
		return nil
	}
	if !existed {
		return apperrors.New(apperrors.CodeChallengeInvalid, "invalid or expired challenge")
	}
	return nil
}

// newUserHandle mints the random opaque handle a discoverable credential
// is bound to.
func newUserHandle() ([]byte, error) {
	handle := make([]byte, userHandleSize)
	if _, err := rand.Read(handle); err != nil {
		return nil, fmt.Errorf("generate user handle: %w", err)
	}
	return handle, nil
}

// clientCredentialID extracts the credential id the client asserted in its
// response payload. It returns an empty string when the payload carries no
// usable id.
func clientCredentialID(response []byte) string {
	var envelope struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(response, &envelope); err != nil {
		return ""
	}
	normalized, err := normalizeCredentialID(envelope.ID)
	if err != nil {
		return ""
	}
	return normalized
}

// normalizeCredentialID canonicalizes a credential id to unpadded
// base64url so lookups never miss on alphabet or padding differences.
func normalizeCredentialID(raw string) (string, error) {
	normalized := strings.TrimSpace(raw)
	normalized = strings.TrimRight(normalized, "=")
	normalized = strings.ReplaceAll(normalized, "+", "-")
	normalized = strings.ReplaceAll(normalized, "/", "_")
	if normalized == "" {
		return "", fmt.Errorf("credential id is empty")
	}
	if _, err := base64.RawURLEncoding.DecodeString(normalized); err != nil {
		return "", fmt.Errorf("credential id is not base64url: %w", err)
	}
	return normalized, nil
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
