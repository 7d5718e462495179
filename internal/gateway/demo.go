package gateway

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

type ctxKey int

const demoCtxKey ctxKey = iota

// demoInfo rides the request context when an anonymous demo user is
// inside their quota.
type demoInfo struct {
	Active    bool
	Remaining int
	Limit     int
}

func demoFrom(ctx context.Context) demoInfo {
	info, _ := ctx.Value(demoCtxKey).(demoInfo)
	return info
}

// authMiddleware enforces the bearer token. In demo mode an invalid or
// missing token downgrades the caller to an anonymous demo user behind
// a sliding-window quota; the check happens before any billable work.
func (s *Server) authMiddleware(family apiFamily) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := s.cfg.Auth.Token
			if token != "" && bearerToken(r) == token {
				next.ServeHTTP(w, r)
				return
			}

			if s.cfg.Demo.Enabled {
				key := "demo:" + clientIP(r)
				allowed, remaining, err := s.limiter.Allow(r.Context(), key,
					s.cfg.Demo.MaxQueries, s.cfg.Demo.Window())
				if err != nil {
					// Quota backend down: let the request through rather
					// than hard-failing the demo.
					s.logger.Warn("demo limiter unavailable", zap.Error(err))
					next.ServeHTTP(w, r)
					return
				}
				if !allowed {
					s.collector.RecordError("rate_limit_exceeded", r.URL.Path)
					writeError(w, family, wireError{
						Status:        http.StatusTooManyRequests,
						OpenAIType:    "rate_limit_exceeded",
						AnthropicType: "rate_limit_error",
						Message:       "Demo limit reached. Please try again later or configure an API key.",
					})
					return
				}
				ctx := context.WithValue(r.Context(), demoCtxKey, demoInfo{
					Active:    true,
					Remaining: remaining,
					Limit:     s.cfg.Demo.MaxQueries,
				})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if token != "" {
				writeError(w, family, wireError{
					Status:        http.StatusUnauthorized,
					OpenAIType:    "invalid_request_error",
					AnthropicType: "authentication_error",
					Message:       "invalid or missing API key",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
