package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/lexiflow/doc-translator/internal/service"
)

// Authenticator resolves the requesting owner. Requests that cannot be
// resolved are rejected before reaching any handler.
type Authenticator interface {
	Authenticate(r *http.Request) (owner string, ok bool)
}

// TokenAuthenticator maps bearer tokens to owners.
type TokenAuthenticator map[string]string

func (a TokenAuthenticator) Authenticate(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", false
	}
	owner, ok := a[token]
	return owner, ok
}

type Server struct {
	svc       *service.Service
	auth      Authenticator
	maxUpload int64

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithMaxUpload caps the multipart form size accepted on submit.
func WithMaxUpload(limit int64) Option {
	return func(s *Server) {
		s.maxUpload = limit
	}
}

func NewServer(svc *service.Service, auth Authenticator, opts ...Option) *Server {
	s := &Server{
		svc:       svc,
		auth:      auth,
		maxUpload: 32 << 20,
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/translations", s.withOwner(s.handleTranslations))
	s.mux.HandleFunc("/api/translations/", s.withOwner(s.handleTranslationByID))
	s.mux.HandleFunc("/api/balance", s.withOwner(s.handleBalance))
	s.mux.HandleFunc("/api/healthz", s.handleHealth)
}

type ownerHandler func(w http.ResponseWriter, r *http.Request, owner string)

func (s *Server) withOwner(next ownerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := s.auth.Authenticate(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing or invalid credentials")
			return
		}
		next(w, r, owner)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
