// Package api implements the HTTP layer for the subscription payment
// service. Handlers are methods on *Server. Each handler file is responsible
// for one resource group and only imports the dependencies it actually uses.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/nullware/subscription-payment/internal/billing"
	"github.com/nullware/subscription-payment/internal/db"
	stripeinternal "github.com/nullware/subscription-payment/internal/stripe"
	"github.com/nullware/subscription-payment/internal/worker"
)

// Config holds the values the HTTP layer needs from the environment.
type Config struct {
	// Env is "production", "staging", or "development".
	Env string

	// StripeWebhookSecret is the signing secret from the Stripe dashboard.
	StripeWebhookSecret string

	// CheckoutSuccessURL / CheckoutCancelURL are the default redirect targets
	// for hosted checkout when the request does not override them.
	CheckoutSuccessURL string
	CheckoutCancelURL  string

	// PortalReturnURL is where the billing portal sends the browser back to.
	PortalReturnURL string

	// CancelRedirectURL is handed to the frontend by GET /payment/cancel.
	CancelRedirectURL string
}

// Server holds all shared dependencies. Each handler file attaches methods to
// this type and uses only the fields it needs.
type Server struct {
	// q handles all single-query reads. Injected directly — no repo wrapper.
	q db.Querier

	// stripe creates checkout/portal sessions and verifies webhook signatures.
	stripe stripeinternal.Client

	// dispatcher routes normalized webhook events into the billing core.
	dispatcher billing.EventDispatcher

	// retrier schedules background redelivery for events whose dispatch failed.
	retrier worker.Enqueuer

	// validate checks request DTOs against their struct tags.
	validate *validator.Validate

	cfg    Config
	logger *slog.Logger
}

// NewServer constructs the Server and wires the chi router. The returned
// http.Handler is ready to pass to http.ListenAndServe.
func NewServer(
	q db.Querier,
	stripeClient stripeinternal.Client,
	dispatcher billing.EventDispatcher,
	retrier worker.Enqueuer,
	cfg Config,
	logger *slog.Logger,
) http.Handler {
	s := &Server{
		q:          q,
		stripe:     stripeClient,
		dispatcher: dispatcher,
		retrier:    retrier,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		cfg:        cfg,
		logger:     logger,
	}

	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// ── Global middleware ─────────────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(middleware.Timeout(30 * time.Second))

	// ── Health ────────────────────────────────────────────────────────────────
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// ── Payment ───────────────────────────────────────────────────────────────
	r.Route("/payment", func(r chi.Router) {
		r.Post("/pay", s.handleCreatePaymentSession)
		r.Get("/success", s.handlePaymentSuccess)
		r.Get("/cancel", s.handlePaymentCancel)
		r.Get("/update/{customerID}", s.handleCreateUpdateSession)

		// Stripe webhook — no auth middleware; the signature check inside the
		// handler is the authentication.
		r.Post("/webhook", s.handleStripeWebhook)
	})

	return r
}
