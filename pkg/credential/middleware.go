package credential

import (
	"net/http"
	"strings"

	"github.com/brokkr/broker/internal/apierr"
	"github.com/brokkr/broker/internal/httpserver"
	"github.com/brokkr/broker/internal/telemetry"
)

// Middleware authenticates every request via the Authorization: Bearer
// header and attaches the resolved AuthPayload to the request context.
// Only §6's unauthenticated endpoints (/healthz, /readyz, /metrics) bypass
// this — they are mounted outside the /api/v1 sub-router, so they never
// reach it. Authorization (role/resource checks) is left to handlers.
func Middleware(iss *Issuer, limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := httpserver.RequestIDFromContext(ctx)

			if limiter != nil {
				res, err := limiter.Check(ctx, clientIP(r))
				if err != nil {
					httpserver.RespondErr(w, requestID, apierr.Wrap(apierr.Internal, "rate limit check failed", err))
					return
				}
				if !res.Allowed {
					telemetry.AuthAttemptsTotal.WithLabelValues("rate_limited").Inc()
					httpserver.RespondError(w, http.StatusTooManyRequests, "rate_limited", "too many failed attempts")
					return
				}
			}

			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				telemetry.AuthAttemptsTotal.WithLabelValues("missing_header").Inc()
				httpserver.RespondErr(w, requestID, apierr.New(apierr.Unauthenticated, "missing bearer token"))
				return
			}

			presented := strings.TrimPrefix(header, prefix)
			payload, err := iss.Verify(ctx, presented)
			if err != nil {
				telemetry.AuthAttemptsTotal.WithLabelValues("invalid").Inc()
				if limiter != nil {
					_ = limiter.Record(ctx, clientIP(r))
				}
				httpserver.RespondErr(w, requestID, err)
				return
			}

			telemetry.AuthAttemptsTotal.WithLabelValues("success").Inc()
			ctx = WithAuth(ctx, payload)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	return r.RemoteAddr
}
