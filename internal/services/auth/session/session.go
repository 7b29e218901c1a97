// Package session mints access tokens for authenticated passkey users.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/murmurapp/murmur/internal/platform/config"
	apperrors "github.com/murmurapp/murmur/internal/platform/errors"
)

// RoleAuthenticated is the role claim carried by every minted session.
const RoleAuthenticated = "authenticated"

// TokenTypeBearer is the token_type value for minted sessions.
const TokenTypeBearer = "bearer"

// sessionEnv holds raw env values before post-parse validation.
type sessionEnv struct {
	SigningSecret string        `env:"MURMUR_SESSION_SIGNING_SECRET"`
	Issuer        string        `env:"MURMUR_SESSION_ISSUER"   envDefault:"murmur-auth"`
	Audience      string        `env:"MURMUR_SESSION_AUDIENCE" envDefault:"authenticated"`
	TTL           time.Duration `env:"MURMUR_SESSION_TTL"      envDefault:"24h"`
}

// Config defines how session tokens are signed.
type Config struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TTL           time.Duration
}

// LoadConfigFromEnv reads session signing configuration. The signing
// secret has no safe default, so its absence is an error the caller
// should treat as fatal at startup.
func LoadConfigFromEnv() (Config, error) {
	var raw sessionEnv
	if err := config.ParseEnv(&raw); err != nil {
		return Config{}, fmt.Errorf("parse session env: %w", err)
	}
	secret := strings.TrimSpace(raw.SigningSecret)
	if secret == "" {
		return Config{}, fmt.Errorf("MURMUR_SESSION_SIGNING_SECRET is required")
	}
	if raw.TTL <= 0 {
		raw.TTL = 24 * time.Hour
	}
	return Config{
		SigningSecret: []byte(secret),
		Issuer:        raw.Issuer,
		Audience:      raw.Audience,
		TTL:           raw.TTL,
	}, nil
}

// Token is a minted session in the shape clients consume directly.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// claims is the internal claims type used for signing.
type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Minter signs session tokens for verified identities.
type Minter struct {
	cfg Config

	// clock returns the current time and exists for test injection.
	clock func() time.Time
}

// NewMinter builds a session minter from signing configuration.
func NewMinter(cfg Config) (*Minter, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, fmt.Errorf("session signing secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Minter{cfg: cfg, clock: time.Now}, nil
}

// Issue signs a session token for the given user id.
func (m *Minter) Issue(userID string) (Token, error) {
	if m == nil {
		return Token{}, apperrors.New(apperrors.CodeSessionMintFailed, "session minter is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Token{}, apperrors.New(apperrors.CodeSessionMintFailed, "user id is required")
	}

	now := m.clock().UTC()
	expiresAt := now.Add(m.cfg.TTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.cfg.Issuer,
			Audience:  jwt.ClaimStrings{m.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: RoleAuthenticated,
	})

	signed, err := token.SignedString(m.cfg.SigningSecret)
	if err != nil {
		return Token{}, apperrors.Wrap(err, apperrors.CodeSessionMintFailed, "sign session token")
	}

	return Token{
		AccessToken: signed,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(m.cfg.TTL / time.Second),
	}, nil
}
