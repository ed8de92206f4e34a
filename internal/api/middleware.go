// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tunetrail/tunetrail/internal/auth"
	"github.com/tunetrail/tunetrail/internal/gate"
	"github.com/tunetrail/tunetrail/internal/logging"
	"github.com/tunetrail/tunetrail/internal/metrics"
	"github.com/tunetrail/tunetrail/internal/models"
)

// RequestID attaches a request id to the context and the X-Request-ID
// response header. An inbound X-Request-ID is honored so upstream proxies can
// correlate.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = logging.GenerateRequestID()
			}
			w.Header().Set("X-Request-ID", requestID)
			ctx := logging.ContextWithRequestID(r.Context(), requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// statusRecorder captures the written status code for metrics and the usage
// log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// Metrics records per-route request counters and latency. The endpoint label
// is the chi route pattern, not the raw path, to keep cardinality bounded.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)

			endpoint := chi.RouteContext(r.Context()).RoutePattern()
			if endpoint == "" {
				endpoint = "unmatched"
			}
			metrics.RecordAPIRequest(r.Method, endpoint, sr.status, time.Since(start))
		})
	}
}

// RequestLogger emits one structured line per request.
func RequestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)

			logging.Ctx(r.Context()).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sr.status).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// Deadline bounds the request context to min(client-specified timeout,
// endpoint default) so cancellation propagates to every downstream call.
// Clients shorten the deadline with an X-Request-Timeout header or a
// timeout query parameter (Go duration or integer seconds); they can never
// extend it past the default.
func Deadline(def time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := def
			if c := clientTimeout(r); c > 0 && c < d {
				d = c
			}
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// clientTimeout parses the caller's requested timeout, or zero.
func clientTimeout(r *http.Request) time.Duration {
	v := r.Header.Get("X-Request-Timeout")
	if v == "" {
		v = r.URL.Query().Get("timeout")
	}
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return 0
}

// clientIP extracts the caller address, trusting chi's RealIP middleware to
// have already rewritten RemoteAddr from X-Forwarded-For.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Authenticate verifies the Authorization header and stores the principal in
// the request context. Unauthenticated requests are rejected here; scope and
// gate checks run later.
func (rt *Router) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, aerr := rt.verifier.Verify(r.Context(), r.Header.Get("Authorization"), clientIP(r))
		if aerr != nil {
			metrics.AuthFailures.WithLabelValues(aerr.Kind).Inc()
			writeAuthError(w, r, aerr)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), p)))
	})
}

// RequireScope rejects principals whose credential does not grant the scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := auth.PrincipalFromContext(r.Context())
			if p == nil {
				writeError(w, r, auth.KindUnknownCredential, "authentication required")
				return
			}
			if !p.HasScope(scope) {
				writeError(w, r, auth.KindScopeInsufficient, "credential does not grant "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Gated runs the plan/feature/quota gate for a resource before the handler.
// X-RateLimit headers reflect the most-constrained window whether the request
// is allowed or not.
func (rt *Router) Gated(res gate.Resource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := auth.PrincipalFromContext(r.Context())
			d := rt.gate.Check(r.Context(), p, res)

			if d.RateLimit != nil {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.RateLimit.Limit, 10))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.RateLimit.Remaining, 10))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.RateLimit.Reset.Unix(), 10))
			}
			if !d.Allowed {
				if p != nil {
					metrics.GateDenials.WithLabelValues(d.Kind, string(p.Plan)).Inc()
				}
				writeGateDenial(w, r, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UsageLog appends one row to the api-key usage log for requests carried by
// an API key. The write is fire-and-forget.
func (rt *Router) UsageLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := rt.clk.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		p := auth.PrincipalFromContext(r.Context())
		if p == nil || p.AuthMethod != models.AuthAPIKey {
			return
		}

		rec := &models.APIKeyUsageRecord{
			ID:         rt.ids.NewID(),
			KeyID:      p.KeyID,
			UserID:     p.UserID,
			Endpoint:   chi.RouteContext(r.Context()).RoutePattern(),
			Method:     r.Method,
			StatusCode: sr.status,
			IPAddress:  clientIP(r),
			LatencyMS:  rt.clk.Now().Sub(start).Milliseconds(),
			CreatedAt:  start,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := rt.repo.AppendAPIKeyUsage(ctx, rec); err != nil {
				rt.logger.Warn().Err(err).Str("key_id", rec.KeyID).Msg("usage log append failed")
			}
		}()
	})
}
