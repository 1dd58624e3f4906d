package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/RemisonBarawa/Freelance-App/pkg/cache"
	"github.com/RemisonBarawa/Freelance-App/pkg/response"

	"go.uber.org/zap"
)

// RateLimiter allows limit requests per client inside window. Clients are
// keyed by user id when authenticated, otherwise by address. A counter
// failure lets the request through.
func RateLimiter(counter cache.Counter, limit int, window time.Duration, keyPrefix string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var clientID string
			if userID, ok := GetUserID(r.Context()); ok && userID != "" {
				clientID = "uid:" + userID
			} else {
				ip := r.Header.Get("X-Forwarded-For")
				if ip == "" {
					ip = r.RemoteAddr
				}
				clientID = "ip:" + strings.TrimSpace(strings.Split(ip, ",")[0])
			}

			count, err := counter.IncrWithExpire(r.Context(), "ratelimit:"+keyPrefix, clientID, window)
			if err != nil {
				logger.Warn("rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			if count > int64(limit) {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				response.Error(w, http.StatusTooManyRequests, "Too Many Requests. Try again in "+window.String())
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limit-int(count)))
			next.ServeHTTP(w, r)
		})
	}
}
