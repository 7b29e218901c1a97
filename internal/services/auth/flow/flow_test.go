package flow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/murmurapp/murmur/internal/services/auth/session"
	"github.com/murmurapp/murmur/internal/services/auth/storage"
	"github.com/murmurapp/murmur/internal/services/auth/user"
)

var fixedNow = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

// memStore is an in-memory Store for flow tests.
type memStore struct {
	challenges  map[string]storage.Challenge
	credentials map[string]storage.Credential
	users       map[string]user.User
}

func newMemStore() *memStore {
	return &memStore{
		challenges:  make(map[string]storage.Challenge),
		credentials: make(map[string]storage.Credential),
		users:       make(map[string]user.User),
	}
}

func (s *memStore) PutChallenge(_ context.Context, challenge storage.Challenge) error {
	s.challenges[challenge.ID] = challenge
	return nil
}

func (s *memStore) GetChallenge(_ context.Context, id string) (storage.Challenge, error) {
	challenge, ok := s.challenges[id]
	if !ok {
		return storage.Challenge{}, storage.ErrNotFound
	}
	return challenge, nil
}

func (s *memStore) ConsumeChallenge(_ context.Context, id string) (bool, error) {
	if _, ok := s.challenges[id]; !ok {
		return false, nil
	}
	delete(s.challenges, id)
	return true, nil
}

func (s *memStore) DeleteExpiredChallenges(_ context.Context, now time.Time) error {
	for id, challenge := range s.challenges {
		if !challenge.ExpiresAt.After(now) {
			delete(s.challenges, id)
		}
	}
	return nil
}

func (s *memStore) InsertCredential(_ context.Context, credential storage.Credential) error {
	if _, ok := s.credentials[credential.CredentialID]; ok {
		return storage.ErrDuplicate
	}
	s.credentials[credential.CredentialID] = credential
	return nil
}

func (s *memStore) GetCredential(_ context.Context, credentialID string) (storage.Credential, error) {
	credential, ok := s.credentials[credentialID]
	if !ok {
		return storage.Credential{}, storage.ErrNotFound
	}
	return credential, nil
}

func (s *memStore) ListCredentialsByUser(_ context.Context, userID string) ([]storage.Credential, error) {
	var credentials []storage.Credential
	for _, credential := range s.credentials {
		if credential.UserID == userID {
			credentials = append(credentials, credential)
		}
	}
	return credentials, nil
}

func (s *memStore) UpdateCredentialUsage(_ context.Context, credentialID string, prevCounter, newCounter uint32, usedAt time.Time) (bool, error) {
	credential, ok := s.credentials[credentialID]
	if !ok || credential.Counter != prevCounter {
		return false, nil
	}
	credential.Counter = newCounter
	credential.LastUsedAt = usedAt
	s.credentials[credentialID] = credential
	return true, nil
}

func (s *memStore) DeleteCredential(_ context.Context, credentialID string) error {
	delete(s.credentials, credentialID)
	return nil
}

func (s *memStore) PutUser(_ context.Context, u user.User) error {
	s.users[u.ID] = u
	return nil
}

func (s *memStore) GetUser(_ context.Context, userID string) (user.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *memStore) DeleteUser(_ context.Context, userID string) error {
	delete(s.users, userID)
	return nil
}

// fakeProvider scripts ceremony outcomes.
type fakeProvider struct {
	challenge string
	options   json.RawMessage

	beginRegistrationErr error
	beginLoginErr        error

	registration          VerifiedRegistration
	verifyRegistrationErr error

	login          VerifiedLogin
	verifyLoginErr error

	verifiedChallenge  string
	verifiedUserHandle []byte
}

func (p *fakeProvider) BeginRegistration(userHandle []byte) (json.RawMessage, string, error) {
	if p.beginRegistrationErr != nil {
		return nil, "", p.beginRegistrationErr
	}
	return p.options, p.challenge, nil
}

func (p *fakeProvider) BeginLogin() (json.RawMessage, string, error) {
	if p.beginLoginErr != nil {
		return nil, "", p.beginLoginErr
	}
	return p.options, p.challenge, nil
}

func (p *fakeProvider) VerifyRegistration(response []byte, challenge string, userHandle []byte) (VerifiedRegistration, error) {
	p.verifiedChallenge = challenge
	p.verifiedUserHandle = userHandle
	if p.verifyRegistrationErr != nil {
		return VerifiedRegistration{}, p.verifyRegistrationErr
	}
	return p.registration, nil
}

func (p *fakeProvider) VerifyLogin(response []byte, challenge string, stored storage.Credential) (VerifiedLogin, error) {
	p.verifiedChallenge = challenge
	if p.verifyLoginErr != nil {
		return VerifiedLogin{}, p.verifyLoginErr
	}
	return p.login, nil
}

// fakeMinter records issued sessions.
type fakeMinter struct {
	err    error
	issued []string
}

func (m *fakeMinter) Issue(userID string) (session.Token, error) {
	if m.err != nil {
		return session.Token{}, m.err
	}
	m.issued = append(m.issued, userID)
	return session.Token{
		AccessToken: "token-" + userID,
		TokenType:   session.TokenTypeBearer,
		ExpiresIn:   86400,
	}, nil
}

func sequenceIDs(ids ...string) func() (string, error) {
	index := 0
	return func() (string, error) {
		id := ids[index%len(ids)]
		index++
		return id, nil
	}
}
