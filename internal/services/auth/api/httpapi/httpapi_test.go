package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/murmurapp/murmur/internal/platform/errors"
	"github.com/murmurapp/murmur/internal/services/auth/flow"
	"github.com/murmurapp/murmur/internal/services/auth/session"
)

const testOrigin = "http://localhost:3000"

type fakeCeremony struct {
	start    flow.StartResult
	startErr error

	token     session.Token
	finishErr error

	gotChallengeID string
	gotResponse    []byte
}

func (f *fakeCeremony) Start(_ context.Context) (flow.StartResult, error) {
	if f.startErr != nil {
		return flow.StartResult{}, f.startErr
	}
	return f.start, nil
}

func (f *fakeCeremony) Finish(_ context.Context, challengeID string, response []byte) (session.Token, error) {
	f.gotChallengeID = challengeID
	f.gotResponse = response
	if f.finishErr != nil {
		return session.Token{}, f.finishErr
	}
	return f.token, nil
}

func newTestServer(registration, login ceremonyFlow) *Server {
	return &Server{
		registration: registration,
		login:        login,
		origins:      []string{testOrigin},
		allowed:      map[string]struct{}{testOrigin: {}},
	}
}

func doRequest(t *testing.T, server *Server, method, path, origin, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", recorder.Body.String(), err)
	}
	return body.Error
}

func TestStartReturnsChallengeAndOptions(t *testing.T) {
	registration := &fakeCeremony{
		start: flow.StartResult{ChallengeID: "challenge-1", Options: json.RawMessage(`{"publicKey":{}}`)},
	}
	server := newTestServer(registration, &fakeCeremony{})

	recorder := doRequest(t, server, http.MethodPost, "/auth/webauthn/register/start", testOrigin, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	if got := recorder.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type = %q", got)
	}

	var body startResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.ChallengeID != "challenge-1" {
		t.Fatalf("challenge id = %q", body.ChallengeID)
	}
	if string(body.Options) != `{"publicKey":{}}` {
		t.Fatalf("options = %s", body.Options)
	}
}

func TestStartWireFieldNames(t *testing.T) {
	registration := &fakeCeremony{
		start: flow.StartResult{ChallengeID: "challenge-1", Options: json.RawMessage(`{"publicKey":{}}`)},
	}
	server := newTestServer(registration, &fakeCeremony{})

	recorder := doRequest(t, server, http.MethodPost, "/auth/webauthn/register/start", testOrigin, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(recorder.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if _, ok := raw["challengeId"]; !ok {
		t.Fatalf("expected challengeId key, body %s", recorder.Body.String())
	}
	if _, ok := raw["challenge_id"]; ok {
		t.Fatalf("unexpected challenge_id key, body %s", recorder.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := newTestServer(&fakeCeremony{}, &fakeCeremony{})

	recorder := doRequest(t, server, http.MethodGet, "/auth/webauthn/login/start", testOrigin, "")
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", recorder.Code)
	}
	if msg := decodeError(t, recorder); msg != "method not allowed" {
		t.Fatalf("error = %q", msg)
	}
}

func TestOriginRequired(t *testing.T) {
	server := newTestServer(&fakeCeremony{}, &fakeCeremony{})

	recorder := doRequest(t, server, http.MethodPost, "/auth/webauthn/login/start", "", "")
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestOriginDisallowed(t *testing.T) {
	server := newTestServer(&fakeCeremony{}, &fakeCeremony{})

	recorder := doRequest(t, server, http.MethodPost, "/auth/webauthn/login/start", "http://evil.example", "")
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d", recorder.Code)
	}
	if msg := decodeError(t, recorder); msg != "origin not allowed" {
		t.Fatalf("error = %q", msg)
	}
}

func TestPreflightAllowed(t *testing.T) {
	server := newTestServer(&fakeCeremony{}, &fakeCeremony{})

	req := httptest.NewRequest(http.MethodOptions, "/auth/webauthn/register/finish", nil)
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("status = %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Fatalf("allow origin = %q", got)
	}
}

func TestFinishRequiresChallengeID(t *testing.T) {
	server := newTestServer(&fakeCeremony{}, &fakeCeremony{})

	recorder := doRequest(t, server, http.MethodPost, "/auth/webauthn/register/finish", testOrigin, `{"credential":{"id":"abc"}}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
	if msg := decodeError(t, recorder); msg != "challengeId is required" {
		t.Fatalf("error = %q", msg)
	}
}

func TestFinishRequiresCredential(t *testing.T) {
	server := newTestServer(&fakeCeremony{}, &fakeCeremony{})

	recorder := doRequest(t, server, http.MethodPost, "/auth/webauthn/login/finish", testOrigin, `{"challengeId":"challenge-1"}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
	if msg := decodeError(t, recorder); msg != "credential is required" {
		t.Fatalf("error = %q", msg)
	}
}

func TestFinishRejectsInvalidJSON(t *testing.T) {
	server := newTestServer(&fakeCeremony{}, &fakeCeremony{})

	recorder := doRequest(t, server, http.MethodPost, "/auth/webauthn/login/finish", testOrigin, `{not json`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
}

func TestFinishReturnsToken(t *testing.T) {
	login := &fakeCeremony{
		token: session.Token{AccessToken: "jwt-token", TokenType: "bearer", ExpiresIn: 86400},
	}
	server := newTestServer(&fakeCeremony{}, login)

	body := `{"challengeId":"challenge-1","credential":{"id":"abc","type":"public-key"}}`
	recorder := doRequest(t, server, http.MethodPost, "/auth/webauthn/login/finish", testOrigin, body)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}

	var token session.Token
	if err := json.Unmarshal(recorder.Body.Bytes(), &token); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if token.AccessToken != "jwt-token" || token.TokenType != "bearer" || token.ExpiresIn != 86400 {
		t.Fatalf("token = %+v", token)
	}
	if login.gotChallengeID != "challenge-1" {
		t.Fatalf("challenge id = %q", login.gotChallengeID)
	}
	if string(login.gotResponse) != `{"id":"abc","type":"public-key"}` {
		t.Fatalf("credential = %s", login.gotResponse)
	}
}

func TestFinishMapsFlowErrorsToStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "invalid challenge",
			err:        apperrors.New(apperrors.CodeChallengeInvalid, "invalid or expired challenge"),
			wantStatus: http.StatusBadRequest,
			wantBody:   "invalid or expired challenge",
		},
		{
			name:       "expired challenge",
			err:        apperrors.New(apperrors.CodeChallengeExpired, "challenge has expired"),
			wantStatus: http.StatusBadRequest,
			wantBody:   "challenge has expired",
		},
		{
			name:       "unknown credential",
			err:        apperrors.New(apperrors.CodeCredentialUnknown, "unknown credential"),
			wantStatus: http.StatusBadRequest,
			wantBody:   "unknown credential",
		},
		{
			name:       "store failure hides detail",
			err:        apperrors.New(apperrors.CodeCredentialStoreFailed, "disk exploded"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "internal server error",
		},
		{
			name:       "mint failure hides detail",
			err:        apperrors.New(apperrors.CodeSessionMintFailed, "secret misconfigured"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "internal server error",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			login := &fakeCeremony{finishErr: test.err}
			server := newTestServer(&fakeCeremony{}, login)

			body := `{"challengeId":"challenge-1","credential":{"id":"abc"}}`
			recorder := doRequest(t, server, http.MethodPost, "/auth/webauthn/login/finish", testOrigin, body)
			if recorder.Code != test.wantStatus {
				t.Fatalf("status = %d, want %d", recorder.Code, test.wantStatus)
			}
			if msg := decodeError(t, recorder); msg != test.wantBody {
				t.Fatalf("error = %q, want %q", msg, test.wantBody)
			}
		})
	}
}

func TestStartErrorMapped(t *testing.T) {
	registration := &fakeCeremony{
		startErr: apperrors.New(apperrors.CodeUnknown, "provider exploded"),
	}
	server := newTestServer(registration, &fakeCeremony{})

	recorder := doRequest(t, server, http.MethodPost, "/auth/webauthn/register/start", testOrigin, "")
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", recorder.Code)
	}
	if msg := decodeError(t, recorder); msg != "internal server error" {
		t.Fatalf("error = %q", msg)
	}
}
