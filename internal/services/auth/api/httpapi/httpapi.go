// Package httpapi exposes the passkey ceremonies as a JSON HTTP surface.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/rs/cors"

	apperrors "github.com/murmurapp/murmur/internal/platform/errors"
	"github.com/murmurapp/murmur/internal/services/auth/flow"
	"github.com/murmurapp/murmur/internal/services/auth/session"
)

// maxBodyBytes caps finish payloads. Attestation responses are a few KB;
// anything near this limit is garbage.
const maxBodyBytes = 1 << 20

type ceremonyFlow interface {
	Start(ctx context.Context) (flow.StartResult, error)
	Finish(ctx context.Context, challengeID string, response []byte) (session.Token, error)
}

// Server routes passkey ceremony requests to the registration and login
// flows behind an origin allow-list.
type Server struct {
	registration ceremonyFlow
	login        ceremonyFlow
	origins      []string
	allowed      map[string]struct{}
}

// NewServer builds the HTTP surface over the two ceremony flows.
func NewServer(registration *flow.Registration, login *flow.Login, allowedOrigins []string) *Server {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return &Server{
		registration: registration,
		login:        login,
		origins:      allowedOrigins,
		allowed:      allowed,
	}
}

// Handler returns the routed handler with CORS preflight support.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/webauthn/register/start", s.handleRegisterStart)
	mux.HandleFunc("/auth/webauthn/register/finish", s.handleRegisterFinish)
	mux.HandleFunc("/auth/webauthn/login/start", s.handleLoginStart)
	mux.HandleFunc("/auth/webauthn/login/finish", s.handleLoginFinish)

	return cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	}).Handler(mux)
}

type startResponse struct {
	ChallengeID string          `json:"challengeId"`
	Options     json.RawMessage `json:"options"`
}

type finishRequest struct {
	ChallengeID string          `json:"challengeId"`
	Credential  json.RawMessage `json:"credential"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleRegisterStart(w http.ResponseWriter, r *http.Request) {
	s.handleStart(w, r, s.registration)
}

func (s *Server) handleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	s.handleFinish(w, r, s.registration)
}

func (s *Server) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	s.handleStart(w, r, s.login)
}

func (s *Server) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	s.handleFinish(w, r, s.login)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, ceremony ceremonyFlow) {
	if !s.guard(w, r) {
		return
	}
	result, err := ceremony.Start(r.Context())
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{ChallengeID: result.ChallengeID, Options: result.Options})
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request, ceremony ceremonyFlow) {
	if !s.guard(w, r) {
		return
	}

	var req finishRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.ChallengeID == "" {
		writeError(w, http.StatusBadRequest, "challengeId is required")
		return
	}
	if len(req.Credential) == 0 {
		writeError(w, http.StatusBadRequest, "credential is required")
		return
	}

	token, err := ceremony.Finish(r.Context(), req.ChallengeID, req.Credential)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

// guard rejects non-POST methods and requests from outside the origin
// allow-list before any flow work happens.
func (s *Server) guard(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	origin := r.Header.Get("Origin")
	if _, ok := s.allowed[origin]; !ok {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return false
	}
	return true
}

func writeFlowError(w http.ResponseWriter, err error) {
	status := apperrors.CodeOf(err).HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Printf("passkey ceremony failed: %v", err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}
