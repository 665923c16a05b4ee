package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/boddenberg/campus-market-api/internal/infra/observability"
	"github.com/boddenberg/campus-market-api/internal/infra/resilience"
	"github.com/boddenberg/campus-market-api/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups everything the router dispatches to. A nil Auth disables
// the /v1 API and leaves only the operational endpoints.
type Services struct {
	Auth          *service.AuthService
	Admin         *service.AdminService
	Listings      *service.ListingService
	Messaging     *service.MessagingService
	Notifications *service.NotificationService
	Hub           *service.BadgeHub
	Health        Pinger
}

// Options tunes the HTTP surface. When Limiter is nil the router builds
// one from RateLimitRPS and RateLimitBurst; callers that pass their own
// own its Cleanup.
type Options struct {
	CORSOrigins     []string
	RateLimitRPS    float64
	RateLimitBurst  int
	Limiter         *resilience.KeyedLimiter
	StreamKeepAlive time.Duration
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc Services, opts Options, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc.Health, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if svc.Auth == nil {
			r.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusServiceUnavailable, "api not configured")
			})
			return
		}

		limiter := opts.Limiter
		if limiter == nil {
			limiter = NewRequestLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
		}

		// =============================================
		// 1. Listings (public reads)
		// GET /v1/listings
		// GET /v1/listings/{listingId}
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(OptionalAuthMiddleware(svc.Auth))
			r.Use(RateLimitMiddleware(limiter, logger))

			r.Get("/listings", listListingsHandler(svc.Listings, logger))
			r.Get("/listings/{listingId}", getListingHandler(svc.Listings, logger))
		})

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(svc.Auth, logger))
			r.Use(RateLimitMiddleware(limiter, logger))

			// =============================================
			// 2. Listings (seller actions)
			// =============================================
			r.Post("/listings", createListingHandler(svc.Listings, logger))
			r.Patch("/listings/{listingId}", updateListingHandler(svc.Listings, logger))
			r.Delete("/listings/{listingId}", removeListingHandler(svc.Listings, logger))
			r.Post("/listings/{listingId}/sold", markSoldHandler(svc.Listings, logger))
			r.Post("/listings/{listingId}/report", reportListingHandler(svc.Admin, logger))

			// =============================================
			// 3. Offers
			// =============================================
			r.Post("/listings/{listingId}/offers", makeOfferHandler(svc.Listings, logger))
			r.Get("/listings/{listingId}/offers", listListingOffersHandler(svc.Listings, logger))
			r.Get("/offers", listMyOffersHandler(svc.Listings, logger))
			r.Post("/offers/{offerId}/accept", acceptOfferHandler(svc.Listings, logger))
			r.Post("/offers/{offerId}/decline", declineOfferHandler(svc.Listings, logger))
			r.Post("/offers/{offerId}/withdraw", withdrawOfferHandler(svc.Listings, logger))

			// =============================================
			// 4. Conversations & messages
			// =============================================
			r.Get("/conversations", listConversationsHandler(svc.Messaging, logger))
			r.Post("/conversations", startConversationHandler(svc.Messaging, logger))
			r.Get("/conversations/{conversationId}/messages", listMessagesHandler(svc.Messaging, logger))
			r.Post("/conversations/{conversationId}/messages", sendMessageHandler(svc.Messaging, logger))
			r.Post("/conversations/{conversationId}/read", markConversationReadHandler(svc.Messaging, logger))

			// =============================================
			// 5. Notifications & badges
			// =============================================
			r.Get("/notifications", listNotificationsHandler(svc.Notifications, logger))
			r.Get("/notifications/counts", badgeCountsHandler(svc.Notifications, logger))
			r.Post("/notifications/{notificationId}/read", markNotificationReadHandler(svc.Notifications, logger))
			r.Post("/notifications/read-all", markAllReadHandler(svc.Notifications, logger))
		})

		// The badge stream is long-lived, so it sits outside the rate limiter.
		r.With(JWTAuthMiddleware(svc.Auth, logger)).
			Get("/notifications/stream", badgeStreamHandler(svc.Notifications, svc.Hub, opts.StreamKeepAlive, logger))

		// =============================================
		// 6. Admin
		// =============================================
		r.Route("/admin", func(r chi.Router) {
			r.Use(JWTAuthMiddleware(svc.Auth, logger))
			r.Use(RateLimitMiddleware(limiter, logger))
			r.Use(AdminMiddleware(svc.Admin, logger))

			r.Get("/dashboard", dashboardHandler(svc.Admin, logger))
			r.Get("/reports", listReportsHandler(svc.Admin, logger))
			r.Post("/reports/{reportId}/resolve", resolveReportHandler(svc.Admin, logger))
			r.Post("/listings/{listingId}/status", setListingStatusHandler(svc.Admin, logger))
			r.Post("/broadcast", broadcastHandler(svc.Admin, logger))
			r.Post("/badges/{userId}/reconcile", reconcileBadgesHandler(svc.Notifications, logger))
		})
	})

	return r
}

// NewRequestLimiter builds the per-caller limiter of the /v1 API.
func NewRequestLimiter(rps float64, burst int) *resilience.KeyedLimiter {
	if rps <= 0 {
		rps = 10
	}
	return resilience.NewKeyedLimiter(rps, burst)
}

// ============================================================
// Operational handlers
// ============================================================

func healthzHandler(health Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "campus-market-api", Status: "healthy", LastChecked: now},
		}

		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()

			start := time.Now()
			err := health.Ping(ctx)
			sh := domain.ServiceHealth{
				Name:        "supabase",
				Status:      "healthy",
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			}
			if err != nil {
				logger.Warn("health check: supabase unreachable", zap.Error(err))
				sh.Status = "degraded"
				sh.Detail = err.Error()
			}
			services = append(services, sh)
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
