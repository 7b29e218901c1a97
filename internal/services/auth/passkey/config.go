package passkey

import (
	"time"

	"github.com/murmurapp/murmur/internal/platform/branding"
	"github.com/murmurapp/murmur/internal/platform/config"
	apperrors "github.com/murmurapp/murmur/internal/platform/errors"
)

// ChallengeKind describes the ceremony a stored challenge belongs to.
type ChallengeKind string

const (
	ChallengeKindRegister ChallengeKind = "register"
	ChallengeKindLogin    ChallengeKind = "login"
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string        `env:"MURMUR_WEBAUTHN_RP_DISPLAY_NAME"`
	RPID          string        `env:"MURMUR_WEBAUTHN_RP_ID"`
	RPOrigins     []string      `env:"MURMUR_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	ChallengeTTL  time.Duration `env:"MURMUR_WEBAUTHN_CHALLENGE_TTL"   envDefault:"5m"`
}

// LoadConfigFromEnv returns passkey configuration. The relying party id
// and origin allow-list have no safe defaults, so their absence is an
// error the caller should treat as fatal at startup.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, apperrors.Wrap(err, apperrors.CodeUnknown, "parse webauthn config")
	}
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = branding.AppName
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	if cfg.RPID == "" {
		return Config{}, apperrors.New(apperrors.CodeUnknown, "MURMUR_WEBAUTHN_RP_ID is required")
	}
	if len(cfg.RPOrigins) == 0 {
		return Config{}, apperrors.New(apperrors.CodeUnknown, "MURMUR_WEBAUTHN_RP_ORIGINS is required")
	}
	return cfg, nil
}
