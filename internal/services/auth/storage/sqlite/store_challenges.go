package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/murmurapp/murmur/internal/services/auth/passkey"
	"github.com/murmurapp/murmur/internal/services/auth/storage"
)

// PutChallenge stores a WebAuthn challenge row.
func (s *Store) PutChallenge(ctx context.Context, challenge storage.Challenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(challenge.ID) == "" {
		return fmt.Errorf("challenge id is required")
	}
	if challenge.Kind == "" {
		return fmt.Errorf("challenge kind is required")
	}
	if strings.TrimSpace(challenge.Value) == "" {
		return fmt.Errorf("challenge value is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO webauthn_challenges (id, kind, challenge, user_handle, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		challenge.ID,
		string(challenge.Kind),
		challenge.Value,
		challenge.UserHandle,
		toMillis(challenge.CreatedAt),
		toMillis(challenge.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put challenge: %w", err)
	}
	return nil
}

// GetChallenge fetches a stored WebAuthn challenge.
func (s *Store) GetChallenge(ctx context.Context, id string) (storage.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return storage.Challenge{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Challenge{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return storage.Challenge{}, fmt.Errorf("challenge id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, kind, challenge, user_handle, created_at, expires_at
FROM webauthn_challenges
WHERE id = ?
`, id)

	var challenge storage.Challenge
	var kind string
	var createdAt int64
	var expiresAt int64
	if err := row.Scan(&challenge.ID, &kind, &challenge.Value, &challenge.UserHandle, &createdAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Challenge{}, storage.ErrNotFound
		}
		return storage.Challenge{}, fmt.Errorf("get challenge: %w", err)
	}
	challenge.Kind = passkey.ChallengeKind(kind)
	challenge.CreatedAt = fromMillis(createdAt)
	challenge.ExpiresAt = fromMillis(expiresAt)
	return challenge, nil
}

// ConsumeChallenge deletes a challenge row and reports whether it existed.
// The delete is atomic, so two racing finishes for the same challenge see
// at most one existed == true.
func (s *Store) ConsumeChallenge(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return false, fmt.Errorf("challenge id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM webauthn_challenges WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("consume challenge: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume challenge rows affected: %w", err)
	}
	return affected > 0, nil
}

// DeleteExpiredChallenges removes challenges whose expiry is at or before now.
func (s *Store) DeleteExpiredChallenges(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM webauthn_challenges WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return fmt.Errorf("delete expired challenges: %w", err)
	}
	return nil
}
