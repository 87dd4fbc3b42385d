package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel/trace"

	"offer-chain-api/internal/auth"
	"offer-chain-api/internal/middleware"
)

// RouterOptions configures the middleware stack around the handlers.
type RouterOptions struct {
	AllowedOrigins []string
	RateLimiter    *middleware.RateLimiter
	Verifier       *auth.Verifier
	AuthEnabled    bool
	Tracer         trace.Tracer
	Logger         *slog.Logger
}

// NewRouter wires every route of the API onto a chi router.
func NewRouter(h *Handler, opts RouterOptions) chi.Router {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	if opts.Tracer != nil {
		r.Use(middleware.TracingMiddleware(opts.Tracer))
	}
	if opts.Logger != nil {
		r.Use(middleware.RequestLogger(opts.Logger))
	}
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Location"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(opts.Verifier, opts.AuthEnabled))
		if opts.RateLimiter != nil {
			r.Use(middleware.RateLimitMiddleware(opts.RateLimiter))
		}

		r.Route("/chains", func(r chi.Router) {
			r.Use(middleware.RequirePermission(auth.SectionChains))
			r.Post("/", h.CreateChain)
			r.Get("/", h.ListChains)
			r.Get("/{id}", h.GetChain)
			r.Get("/{id}/offers", h.GetChainOffers)
			r.Get("/{id}/next", h.GetNextOffer)
			r.Patch("/{id}", h.UpdateChain)
			r.Delete("/{id}", h.DeleteChain)
		})

		r.Route("/offers", func(r chi.Router) {
			r.Use(middleware.RequirePermission(auth.SectionChains))
			r.Post("/", h.CreateOffer)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Use(middleware.RequirePermission(auth.SectionCampaigns))
			r.Post("/", h.CreateCampaign)
			r.Get("/offers/{offerId}", h.GetLastCampChain)
			r.Get("/{campaignId}/offers/{offerId}/payeename", h.GetPayeeName)
			r.Get("/{campaignId}/offers/{offerId}/next", h.GetCampaignNextOffer)
		})

		r.Route("/payee-names", func(r chi.Router) {
			r.Use(middleware.RequirePermission(auth.SectionCampaigns))
			r.Post("/", h.CreatePayeeName)
		})

		r.Route("/client-offers", func(r chi.Router) {
			r.With(middleware.RequirePermission(auth.SectionCampaigns)).Post("/", h.RecordClientOffer)
			// Advancing mutates an existing enrolment.
			r.With(middleware.RequireAction(auth.SectionCampaigns, auth.ActionEdit)).Post("/{id}/advance", h.AdvanceClientOffer)
		})
	})

	return r
}
