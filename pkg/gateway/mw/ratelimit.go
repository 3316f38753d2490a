package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/vai-voice-agents/pkg/core"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/auth"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/metrics"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/ratelimit"
)

func RateLimit(limiter *ratelimit.Limiter, m *metrics.Metrics, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAPIPath(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		principal := "anonymous"
		if p, ok := auth.PrincipalFrom(r.Context()); ok {
			principal = p.ID
		}

		now := time.Now()
		dec := limiter.AcquireRequest(principal, now)
		if !dec.Allowed {
			m.RecordRateLimitHit()
			rejectRateLimited(w, r, dec.RetryAfter, "rate limit exceeded")
			return
		}
		defer dec.Permit.Release()

		if r.URL.Path == "/api/session" {
			if sess := limiter.AcquireSession(principal, now); !sess.Allowed {
				m.RecordRateLimitHit()
				rejectRateLimited(w, r, sess.RetryAfter, "realtime session limit exceeded")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func rejectRateLimited(w http.ResponseWriter, r *http.Request, retryAfterSecs int, msg string) {
	reqID, _ := RequestIDFrom(r.Context())
	var retryAfter *int
	if retryAfterSecs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
		retryAfter = &retryAfterSecs
	}
	writeJSONError(w, http.StatusTooManyRequests, &core.Error{
		Type:       core.ErrRateLimit,
		Message:    msg,
		RequestID:  reqID,
		RetryAfter: retryAfter,
	})
}
