package flow

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/murmurapp/murmur/internal/platform/errors"
	"github.com/murmurapp/murmur/internal/services/auth/passkey"
	"github.com/murmurapp/murmur/internal/services/auth/storage"
)

// Provider runs WebAuthn ceremonies behind domain-shaped results so the
// orchestrators and their tests never touch protocol types directly.
type Provider interface {
	// BeginRegistration builds creation options for a new discoverable
	// credential bound to the given user handle. The returned challenge
	// is the base64url nonce embedded in the options.
	BeginRegistration(userHandle []byte) (options json.RawMessage, challenge string, err error)
	// BeginLogin builds assertion options for a usernameless login.
	BeginLogin() (options json.RawMessage, challenge string, err error)
	// VerifyRegistration validates an attestation response against the
	// issued challenge and user handle.
	VerifyRegistration(response []byte, challenge string, userHandle []byte) (VerifiedRegistration, error)
	// VerifyLogin validates an assertion response against the issued
	// challenge and the stored credential.
	VerifyLogin(response []byte, challenge string, stored storage.Credential) (VerifiedLogin, error)
}

// VerifiedRegistration carries the credential material extracted from a
// successful attestation.
type VerifiedRegistration struct {
	CredentialID   []byte
	PublicKey      []byte
	Counter        uint32
	Transports     []string
	AAGUID         []byte
	AttestationFmt string
	BackupEligible bool
	BackupState    bool
}

// VerifiedLogin carries the authenticator state observed during a
// successful assertion.
type VerifiedLogin struct {
	NewCounter   uint32
	CloneWarning bool
}

// webauthnProvider is the production Provider backed by go-webauthn.
type webauthnProvider struct {
	client *webauthn.WebAuthn
}

// NewProvider builds the default WebAuthn provider from relying party
// configuration.
func NewProvider(cfg passkey.Config) (Provider, error) {
	client, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}
	return &webauthnProvider{client: client}, nil
}

func (p *webauthnProvider) BeginRegistration(userHandle []byte) (json.RawMessage, string, error) {
	ceremony := &ceremonyUser{handle: userHandle, name: "passkey"}
	creation, session, err := p.client.BeginRegistration(ceremony,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			RequireResidentKey: protocol.ResidentKeyRequired(),
			ResidentKey:        protocol.ResidentKeyRequirementRequired,
			UserVerification:   protocol.VerificationRequired,
		}),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
		webauthn.WithCredentialParameters([]protocol.CredentialParameter{
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
		}),
	)
	if err != nil {
		return nil, "", fmt.Errorf("begin registration: %w", err)
	}
	optionsJSON, err := json.Marshal(creation)
	if err != nil {
		return nil, "", fmt.Errorf("encode registration options: %w", err)
	}
	return optionsJSON, session.Challenge, nil
}

func (p *webauthnProvider) BeginLogin() (json.RawMessage, string, error) {
	assertion, session, err := p.client.BeginDiscoverableLogin(
		webauthn.WithUserVerification(protocol.VerificationRequired),
	)
	if err != nil {
		return nil, "", fmt.Errorf("begin login: %w", err)
	}
	optionsJSON, err := json.Marshal(assertion)
	if err != nil {
		return nil, "", fmt.Errorf("encode login options: %w", err)
	}
	return optionsJSON, session.Challenge, nil
}

func (p *webauthnProvider) VerifyRegistration(response []byte, challenge string, userHandle []byte) (VerifiedRegistration, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return VerifiedRegistration{}, apperrors.Wrap(err, apperrors.CodeCredentialInvalid, "parse registration response")
	}

	session := webauthn.SessionData{
		Challenge:        challenge,
		UserID:           userHandle,
		UserVerification: protocol.VerificationRequired,
	}
	credential, err := p.client.CreateCredential(&ceremonyUser{handle: userHandle, name: "passkey"}, session, parsed)
	if err != nil {
		return VerifiedRegistration{}, apperrors.Wrap(err, apperrors.CodeCredentialInvalid, "verify registration response")
	}

	return VerifiedRegistration{
		CredentialID:   credential.ID,
		PublicKey:      credential.PublicKey,
		Counter:        credential.Authenticator.SignCount,
		Transports:     transportNames(credential.Transport),
		AAGUID:         credential.Authenticator.AAGUID,
		AttestationFmt: credential.AttestationType,
		BackupEligible: credential.Flags.BackupEligible,
		BackupState:    credential.Flags.BackupState,
	}, nil
}

func (p *webauthnProvider) VerifyLogin(response []byte, challenge string, stored storage.Credential) (VerifiedLogin, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return VerifiedLogin{}, apperrors.Wrap(err, apperrors.CodeCredentialInvalid, "parse login response")
	}

	webCredential, err := decodeStoredCredential(stored)
	if err != nil {
		return VerifiedLogin{}, apperrors.Wrap(err, apperrors.CodeCredentialStoreFailed, "decode stored credential")
	}

	// Discoverable logins carry no user id in the session. The handler
	// hands back the already-loaded credential under whatever handle the
	// authenticator asserted.
	handler := func(_, userHandle []byte) (webauthn.User, error) {
		return &ceremonyUser{
			handle:      userHandle,
			name:        "passkey",
			credentials: []webauthn.Credential{webCredential},
		}, nil
	}
	session := webauthn.SessionData{
		Challenge:        challenge,
		UserVerification: protocol.VerificationRequired,
	}
	_, validated, err := p.client.ValidatePasskeyLogin(handler, session, parsed)
	if err != nil {
		return VerifiedLogin{}, apperrors.Wrap(err, apperrors.CodeCredentialInvalid, "verify login response")
	}

	return VerifiedLogin{
		NewCounter:   validated.Authenticator.SignCount,
		CloneWarning: validated.Authenticator.CloneWarning,
	}, nil
}

// ceremonyUser satisfies webauthn.User for a single ceremony. Passkey
// identities are keyed by opaque user handles, never by account data.
type ceremonyUser struct {
	handle      []byte
	name        string
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return u.handle
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.name
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.name
}

func (u *ceremonyUser) WebAuthnIcon() string {
	return ""
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func decodeStoredCredential(stored storage.Credential) (webauthn.Credential, error) {
	credentialID, err := base64.RawURLEncoding.DecodeString(stored.CredentialID)
	if err != nil {
		return webauthn.Credential{}, fmt.Errorf("decode credential id: %w", err)
	}
	publicKey, err := base64.RawURLEncoding.DecodeString(stored.PublicKey)
	if err != nil {
		return webauthn.Credential{}, fmt.Errorf("decode public key: %w", err)
	}
	transports := make([]protocol.AuthenticatorTransport, 0, len(stored.Transports))
	for _, name := range stored.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(name))
	}
	return webauthn.Credential{
		ID:        credentialID,
		PublicKey: publicKey,
		Transport: transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    true,
			UserVerified:   true,
			BackupEligible: stored.BackupEligible,
			BackupState:    stored.BackupState,
		},
		Authenticator: webauthn.Authenticator{SignCount: stored.Counter},
	}, nil
}

func transportNames(transports []protocol.AuthenticatorTransport) []string {
	if len(transports) == 0 {
		return nil
	}
	names := make([]string, 0, len(transports))
	for _, transport := range transports {
		names = append(names, string(transport))
	}
	return names
}
