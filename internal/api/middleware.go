package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"courtdesk/internal/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// HTTPAuth provides API-key or bearer-token auth and per-caller rate limiting.
type HTTPAuth struct {
	cfg     config.APIConfig
	keys    keyring
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{cfg: cfg, keys: newKeyring(cfg.Auth), limiter: newRateLimiter(&cfg)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || !a.cfg.HTTP.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			principal, err := a.authenticate(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			r = r.WithContext(withPrincipal(r.Context(), principal))
		}

		if a.limiter.enabled() && !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) authenticate(r *http.Request) (*Principal, error) {
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && a.cfg.Auth.JWTSecret != "" {
		return parseToken(a.cfg.Auth.JWTSecret, strings.TrimSpace(bearer))
	}
	return a.keys.verify(
		strings.TrimSpace(r.Header.Get(a.keys.apiKeyHeader)),
		strings.TrimSpace(r.Header.Get(a.keys.extraHeader)),
	)
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if p := PrincipalFrom(r.Context()); p != nil && p.Name != "" {
		return p.Name
	}
	if apiKey := strings.TrimSpace(r.Header.Get(a.keys.apiKeyHeader)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

// loggingMiddleware tags each request with an id, recovers panics and logs
// the outcome.
func loggingMiddleware(logger *zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().Interface("panic", rec).Str("request_id", requestID).Str("path", r.URL.Path).Msg("http handler panicked")
				writeError(recorder, http.StatusInternalServerError, "internal error")
			}
			logger.Info().
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", recorder.status).
				Dur("duration", time.Since(start)).
				Msg("http request")
		}()
		next.ServeHTTP(recorder, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
