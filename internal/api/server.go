// Package api exposes the HTTP surface of the meeting pipeline: session
// start/stop, transcript push for simulations, the validation workflow, and
// the CRM sync trigger.
//
// All routes require a bearer token. Errors travel in a structured envelope;
// adapter and store internals are logged server-side, never returned.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/meetwren/wren/internal/crmsync"
	"github.com/meetwren/wren/internal/observe"
	"github.com/meetwren/wren/internal/session"
	"github.com/meetwren/wren/internal/store"
	"github.com/meetwren/wren/internal/validation"
)

// Server holds the handlers' collaborators. Construct with [New] and mount
// the result of [Server.Routes].
type Server struct {
	manager       *session.Manager
	validation    *validation.Workflow
	syncer        *crmsync.Syncer
	store         store.Store
	metrics       *observe.Metrics
	token         string
	chunkDuration time.Duration
}

// Option configures optional Server behaviour.
type Option func(*Server)

// WithChunkDuration sets the duration assumed for audio pushes that omit
// duration_ms. Default: 2s.
func WithChunkDuration(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.chunkDuration = d
		}
	}
}

// New creates the API server. token is the shared bearer token; an empty
// token fails closed, rejecting every request.
func New(m *session.Manager, v *validation.Workflow, sy *crmsync.Syncer, st store.Store, metrics *observe.Metrics, token string, opts ...Option) *Server {
	if metrics == nil {
		metrics = observe.Noop()
	}
	s := &Server{
		manager:       m,
		validation:    v,
		syncer:        sy,
		store:         st,
		metrics:       metrics,
		token:         token,
		chunkDuration: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the authenticated route tree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /meetings/{id}/start", s.handleStart)
	mux.HandleFunc("POST /meetings/{id}/end", s.handleEnd)
	mux.HandleFunc("POST /meetings/{id}/sync-crm", s.handleSyncCRM)
	mux.HandleFunc("POST /meetings/sessions/{id}/transcript", s.handleTranscript)
	mux.HandleFunc("POST /meetings/sessions/{id}/retry", s.handleRetry)
	mux.HandleFunc("GET /meetings/sessions/{id}", s.handleSessionStatus)
	mux.HandleFunc("GET /meetings/sessions", s.handleSessionList)

	mux.HandleFunc("POST /validation/sessions", s.handleCreateValidation)
	mux.HandleFunc("GET /validation/sessions/{id}/questions", s.handleQuestions)
	mux.HandleFunc("POST /validation/sessions/{id}/responses", s.handleResponse)
	mux.HandleFunc("POST /validation/sessions/{id}/complete", s.handleComplete)

	return s.requireAuth(observe.Middleware(s.metrics, mux))
}

// requireAuth enforces the bearer token on every route. Comparison is
// constant-time.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "api token not configured")
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
