package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/murmurapp/murmur/internal/platform/timeouts"
	"github.com/murmurapp/murmur/internal/services/auth/api/httpapi"
	"github.com/murmurapp/murmur/internal/services/auth/flow"
	"github.com/murmurapp/murmur/internal/services/auth/passkey"
	"github.com/murmurapp/murmur/internal/services/auth/session"
	authsqlite "github.com/murmurapp/murmur/internal/services/auth/storage/sqlite"
)

// Server hosts the passkey auth service.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *authsqlite.Store
}

// New creates a configured auth server listening on the provided address.
func New(addr string) (*Server, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	store, err := openAuthStore(os.Getenv("MURMUR_AUTH_DB_PATH"))
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	passkeyConfig, err := passkey.LoadConfigFromEnv()
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}
	sessionConfig, err := session.LoadConfigFromEnv()
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	provider, err := flow.NewProvider(passkeyConfig)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}
	minter, err := session.NewMinter(sessionConfig)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	registration := flow.NewRegistration(provider, store, minter, passkeyConfig.ChallengeTTL)
	login := flow.NewLogin(provider, store, minter, passkeyConfig.ChallengeTTL)
	api := httpapi.NewServer(registration, login, passkeyConfig.RPOrigins)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{
			Handler:           api.Handler(),
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		store:      store,
	}, nil
}

// Addr returns the listener address for the auth server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an auth server until the context ends.
func Run(ctx context.Context, addr string) error {
	authServer, err := New(addr)
	if err != nil {
		return err
	}
	return authServer.Serve(ctx)
}

// Serve starts the auth server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	// The flows never trust a stale challenge row, so the sweep is purely
	// hygiene.
	s.startChallengeSweep(serverCtx, timeouts.ChallengeSweep)

	log.Printf("auth server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer shutdownCancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return handleErr(<-serveErr)
	case err := <-serveErr:
		return handleErr(err)
	}
}

// startChallengeSweep deletes expired challenge rows on an interval until
// the context ends.
func (s *Server) startChallengeSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.store.DeleteExpiredChallenges(ctx, time.Now().UTC()); err != nil {
					log.Printf("sweep expired challenges: %v", err)
				}
			}
		}
	}()
}

func openAuthStore(path string) (*authsqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "auth.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close auth store: %v", err)
		}
	}
}
