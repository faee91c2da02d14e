// Package qahttp is the thin HTTP surface for the Q&A agent (spec §6):
// three user-class-filtered chat endpoint variants plus a health probe.
// Grounded on internal/httpapi/server.go's stdlib http.ServeMux with
// Go 1.22 method-pattern routing, kept as its own package rather than
// extending internal/httpapi because that package is wired to an
// unrelated feature (the prompt-eval playground) and serves a different
// JSON contract entirely.
package qahttp

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"manifold/internal/qa/orchestrator"
	"manifold/internal/qa/session"
)

// Server exposes the Q&A agent's HTTP API.
type Server struct {
	orch     *orchestrator.Orchestrator
	sessions *session.Manager
	health   *HealthChecker
	mux      *http.ServeMux

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rateLimit rate.Limit
	burst     int
}

// Config tunes rate limiting; other behaviour is fixed by the spec.
type Config struct {
	RateLimitPerMinute int
	RateLimitBurst     int
}

// NewServer wires the orchestrator, session manager, and health checker
// into an http.Handler.
func NewServer(orch *orchestrator.Orchestrator, sessions *session.Manager, health *HealthChecker, cfg Config) *Server {
	perMinute := cfg.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 10
	}
	s := &Server{
		orch:      orch,
		sessions:  sessions,
		health:    health,
		mux:       http.NewServeMux(),
		limiters:  make(map[string]*rate.Limiter),
		rateLimit: rate.Limit(float64(perMinute) / 60.0),
		burst:     burst,
	}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/agent/test", s.rateLimited(s.handleChat(viewTest)))
	s.mux.HandleFunc("POST /api/agent/support", s.rateLimited(s.handleChat(viewSupport)))
	s.mux.HandleFunc("POST /api/agent/customer", s.rateLimited(s.handleChat(viewCustomer)))
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// limiterFor returns (creating if needed) the per-caller token bucket,
// keyed by the caller's session id when present or its remote address
// otherwise. Spec §6 specifies 429 on exceed; it does not mandate a
// specific keying scheme, so this follows the common per-client-identity
// convention.
func (s *Server) limiterFor(key string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(s.rateLimit, s.burst)
		s.limiters[key] = l
	}
	return l
}
