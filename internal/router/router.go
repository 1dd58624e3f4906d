// internal/router/router.go
package router

import (
	"net/http"
	"strconv"
	"time"

	"github.com/RemisonBarawa/Freelance-App/config"
	"github.com/RemisonBarawa/Freelance-App/internal/handler"
	"github.com/RemisonBarawa/Freelance-App/internal/metrics"
	authmw "github.com/RemisonBarawa/Freelance-App/internal/middleware"
	"github.com/RemisonBarawa/Freelance-App/pkg/cache"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const RoleAdmin = "admin"

type Handlers struct {
	Payment  *handler.PaymentHandler
	Callback *handler.CallbackHandler
	Escrow   *handler.EscrowHandler
	Admin    *handler.AdminHandler
	Stream   *handler.TransactionStreamHandler
}

func SetupRoutes(
	h Handlers,
	auth *authmw.AuthMiddleware,
	counter cache.Counter,
	cfg config.ServerConfig,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Websocket streams outlive the request timeout.
		r.With(auth.Require()).Get("/ws/transactions/{id}", h.Stream.Stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))

			// M-Pesa callbacks are public; the provider cannot authenticate.
			r.Route("/callbacks/mpesa", func(r chi.Router) {
				r.Post("/stk", h.Callback.HandleSTKCallback)
				r.Post("/b2c/result", h.Callback.HandleB2CResult)
				r.Post("/b2c/timeout", h.Callback.HandleB2CTimeout)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.Require())

				r.Route("/payments", func(r chi.Router) {
					r.Use(authmw.RateLimiter(counter, cfg.RateLimit, cfg.RateWindow, "payments", logger))
					r.Post("/initiate", h.Payment.InitiatePayment)
					r.Post("/status", h.Payment.CheckStatus)
				})

				r.Get("/transactions/{id}", h.Payment.GetTransaction)
				r.Get("/projects/{projectID}/transactions", h.Payment.ListProjectTransactions)
				r.Get("/projects/{projectID}/escrows", h.Escrow.ListProjectEscrows)
				r.Get("/escrow/{id}", h.Escrow.GetEscrow)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.Require(RoleAdmin))

				r.Post("/escrow/{id}/release", h.Escrow.ReleaseEscrow)
				r.Post("/escrow/{id}/dispute", h.Escrow.OpenDispute)
				r.Post("/transactions/{id}/refund", h.Escrow.RefundTransaction)
				r.Post("/projects/{projectID}/assign", h.Escrow.AssignFreelancer)

				r.Route("/admin", func(r chi.Router) {
					r.Get("/mpesa/secrets", h.Admin.GetSecrets)
					r.Put("/mpesa/secrets", h.Admin.UpdateSecrets)
					r.Post("/webhooks/{id}/replay", h.Admin.ReplayWebhook)
					r.Post("/reconcile", h.Admin.SweepStale)
				})
			})
		})
	})

	return r
}

// LoggerMiddleware logs HTTP requests and records their duration.
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.HTTPRequestDuration.
				WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).
				Observe(time.Since(start).Seconds())

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()))
		})
	}
}
