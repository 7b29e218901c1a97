package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/murmurapp/murmur/internal/services/auth/storage"
)

// InsertCredential stores a freshly verified WebAuthn credential.
func (s *Store) InsertCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(credential.PublicKey) == "" {
		return fmt.Errorf("public key is required")
	}

	transports, err := encodeTransports(credential.Transports)
	if err != nil {
		return fmt.Errorf("encode transports: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO webauthn_credentials (
	credential_id,
	user_id,
	public_key,
	counter,
	transports,
	aaguid,
	attestation_fmt,
	backup_eligible,
	backup_state,
	created_at,
	last_used_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		credential.CredentialID,
		credential.UserID,
		credential.PublicKey,
		int64(credential.Counter),
		transports,
		credential.AAGUID,
		credential.AttestationFmt,
		boolToInt(credential.BackupEligible),
		boolToInt(credential.BackupState),
		toMillis(credential.CreatedAt),
		toMillis(credential.LastUsedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetCredential fetches a stored WebAuthn credential.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Credential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.Credential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, credentialSelect+` WHERE credential_id = ?`, credentialID)
	credential, err := scanCredential(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return credential, nil
}

// ListCredentialsByUser returns credentials registered to a user.
func (s *Store) ListCredentialsByUser(ctx context.Context, userID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, credentialSelect+` WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var credentials []storage.Credential
	for rows.Next() {
		credential, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// UpdateCredentialUsage advances the replay counter with a compare-and-set
// so concurrent logins against the same credential cannot both win.
func (s *Store) UpdateCredentialUsage(ctx context.Context, credentialID string, prevCounter, newCounter uint32, usedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return false, fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE webauthn_credentials
SET counter = ?, last_used_at = ?
WHERE credential_id = ? AND counter = ?
`,
		int64(newCounter),
		toMillis(usedAt),
		credentialID,
		int64(prevCounter),
	)
	if err != nil {
		return false, fmt.Errorf("update credential usage: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update credential usage rows affected: %w", err)
	}
	return affected > 0, nil
}

// DeleteCredential removes a credential.
func (s *Store) DeleteCredential(ctx context.Context, credentialID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM webauthn_credentials WHERE credential_id = ?`, credentialID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

const credentialSelect = `
SELECT credential_id, user_id, public_key, counter, transports, aaguid, attestation_fmt, backup_eligible, backup_state, created_at, last_used_at
FROM webauthn_credentials`

func scanCredential(scan func(dest ...any) error) (storage.Credential, error) {
	var credential storage.Credential
	var counter int64
	var transports string
	var backupEligible int64
	var backupState int64
	var createdAt int64
	var lastUsedAt int64
	if err := scan(
		&credential.CredentialID,
		&credential.UserID,
		&credential.PublicKey,
		&counter,
		&transports,
		&credential.AAGUID,
		&credential.AttestationFmt,
		&backupEligible,
		&backupState,
		&createdAt,
		&lastUsedAt,
	); err != nil {
		return storage.Credential{}, err
	}
	credential.Counter = uint32(counter)
	credential.BackupEligible = backupEligible != 0
	credential.BackupState = backupState != 0
	credential.CreatedAt = fromMillis(createdAt)
	credential.LastUsedAt = fromMillis(lastUsedAt)
	if transports != "" {
		if err := json.Unmarshal([]byte(transports), &credential.Transports); err != nil {
			return storage.Credential{}, fmt.Errorf("decode transports: %w", err)
		}
	}
	return credential, nil
}

func encodeTransports(transports []string) (string, error) {
	if len(transports) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(transports)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}
