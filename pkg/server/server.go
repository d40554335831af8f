// Copyright 2025 Archive Origin
//
// HTTP server: routes, request-scoped chrome (TLS enforcement, CORS,
// request IDs, rate limiting), and the JSON response helpers.

package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/archive-origin/backend/pkg/attestation"
	"github.com/archive-origin/backend/pkg/auth"
	"github.com/archive-origin/backend/pkg/config"
	"github.com/archive-origin/backend/pkg/database"
	"github.com/archive-origin/backend/pkg/lockproof"
	"github.com/archive-origin/backend/pkg/metrics"
	"github.com/archive-origin/backend/pkg/ratelimit"
	"github.com/archive-origin/backend/pkg/token"
	"github.com/archive-origin/backend/pkg/trustedtime"
	"github.com/archive-origin/backend/pkg/verification"
)

// Server wires every component to the HTTP surface.
type Server struct {
	cfg *config.Config

	db           *database.Client
	tokens       *token.Service
	lockProofs   *lockproof.Writer
	verifier     *verification.Engine
	attestations *attestation.Service
	authn        *auth.Authenticator
	limiter      *ratelimit.Limiter
	clock        *trustedtime.Clock

	logger *log.Logger
}

// New assembles a Server from already-constructed components.
func New(
	cfg *config.Config,
	db *database.Client,
	tokens *token.Service,
	lockProofs *lockproof.Writer,
	verifier *verification.Engine,
	attestations *attestation.Service,
	authn *auth.Authenticator,
	limiter *ratelimit.Limiter,
	clock *trustedtime.Clock,
	logger *log.Logger,
) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[Server] ", log.LstdFlags)
	}
	return &Server{
		cfg:          cfg,
		db:           db,
		tokens:       tokens,
		lockProofs:   lockProofs,
		verifier:     verifier,
		attestations: attestations,
		authn:        authn,
		limiter:      limiter,
		clock:        clock,
		logger:       logger,
	}
}

// Handler returns the fully wired root HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", withMetrics("health", s.handleHealth))
	mux.HandleFunc("/device/enroll", withMetrics("device_enroll", s.withPublicChrome(s.handleEnroll)))
	mux.HandleFunc("/lock-proof", withMetrics("lock_proof", s.withPublicChrome(s.handleLockProof)))
	mux.HandleFunc("/api/v1/verify", withMetrics("verify", s.withVerifierChrome(s.handleVerify)))
	mux.HandleFunc("/api/v1/ledger/lookup", withMetrics("ledger_lookup", s.withVerifierChrome(s.handleLedgerLookup)))
	mux.HandleFunc("/api/v1/certs/", withMetrics("get_cert", s.withVerifierChrome(s.handleGetCert)))
	mux.Handle("/metrics", promhttp.Handler())

	return s.withRequestID(mux)
}

// statusRecorder wraps http.ResponseWriter to capture the final status code
// for metrics, defaulting to 200 if WriteHeader is never called explicitly.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withMetrics records an archiveorigin_http_requests_total observation for
// every call to next, bucketed by route name and status class.
func withMetrics(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.HTTPRequestsTotal.WithLabelValues(route, metrics.StatusClass(rec.status)).Inc()
	}
}

// withRequestID echoes or synthesizes X-Request-ID ahead of every route.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

// withPublicChrome applies anonymous-keyed rate limiting to routes that use
// their own domain-specific auth (device enrolment, bearer-token lock-proof).
func (s *Server) withPublicChrome(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + r.RemoteAddr
		if !s.limiter.Hit(key, s.cfg.AnonymousRateLimitPerMinute) {
			metrics.RateLimitRejectionsTotal.WithLabelValues("ip").Inc()
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// withVerifierChrome applies TLS enforcement, CORS, API-key/HMAC auth, rate
// limiting, and the verifier cache-control header (§4.6, §6).
func (s *Server) withVerifierChrome(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.applyCORS(w, r)

		if s.cfg.TLSRequired && !isHTTPS(r) {
			writeError(w, http.StatusBadRequest, "tls_required", "TLS is required")
			return
		}

		identity, err := s.authn.Authenticate(r.Header, r.Header.Get("X-Content-Hash"))
		if err != nil {
			status, code := auth.HTTPStatus(err)
			writeError(w, status, code, err.Error())
			return
		}

		limitKey := auth.RateLimitKey(identity, r.RemoteAddr)
		if !s.limiter.Hit(limitKey, identity.RateLimitPerMinute) {
			keyClass := "ip"
			if identity.Authenticated {
				keyClass = "api_key"
			}
			metrics.RateLimitRejectionsTotal.WithLabelValues(keyClass).Inc()
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}

		w.Header().Set("Cache-Control", "private, max-age=30")

		ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
		next(w, r.WithContext(ctx))
	}
}

type identityContextKey struct{}

func identityFromContext(ctx context.Context) auth.ClientIdentity {
	if v, ok := ctx.Value(identityContextKey{}).(auth.ClientIdentity); ok {
		return v
	}
	return auth.ClientIdentity{}
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	if len(s.cfg.CORSAllowOrigins) == 0 {
		return
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.CORSAllowOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			return
		}
	}
}

func isHTTPS(r *http.Request) bool {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return strings.EqualFold(proto, "https")
	}
	return r.TLS != nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ok := false
	if status, err := s.db.Health(r.Context()); err == nil && status.Healthy {
		ok = true
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        ok,
		"time_utc":  s.clock.Now().Format(time.RFC3339),
		"db_online": ok,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
