package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v82"

	stripeinternal "github.com/nullware/subscription-payment/internal/stripe"
)

// ─── POST /payment/pay ────────────────────────────────────────────────────────

type createPaymentSessionRequest struct {
	// PriceID selects the subscription plan being purchased.
	PriceID string `json:"price_id" validate:"required"`
	// Quantity defaults to 1 when omitted.
	Quantity int64 `json:"quantity" validate:"omitempty,gte=1,lte=100"`
	// CustomerEmail pre-fills the checkout page when supplied.
	CustomerEmail string `json:"customer_email" validate:"omitempty,email"`
	// SuccessURL / CancelURL override the configured redirect targets.
	SuccessURL string `json:"success_url" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url" validate:"omitempty,url"`
	// Metadata is copied onto the checkout session and, from there, onto the
	// local subscription record once the completed event arrives.
	Metadata map[string]string `json:"metadata" validate:"omitempty,max=20"`
}

type createPaymentSessionResponse struct {
	// URL is the provider-hosted checkout page the browser should navigate to.
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

// handleCreatePaymentSession creates a Stripe Checkout session and returns
// its URL. No local state is written here: the subscription record is only
// created when checkout.session.completed comes back through the webhook.
// Provider failures surface to the caller with a client-visible status — a
// rejected request must not look like a success or crash the handler.
func (s *Server) handleCreatePaymentSession(w http.ResponseWriter, r *http.Request) {
	var req createPaymentSessionRequest
	if !decode(w, r, &req) {
		return
	}
	if !s.validateRequest(w, req) {
		return
	}

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = s.cfg.CheckoutSuccessURL
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = s.cfg.CheckoutCancelURL
	}

	session, err := s.stripe.CreateCheckoutSession(r.Context(), stripeinternal.CheckoutParams{
		PriceID:       req.PriceID,
		Quantity:      req.Quantity,
		CustomerEmail: req.CustomerEmail,
		SuccessURL:    successURL,
		CancelURL:     cancelURL,
		Metadata:      req.Metadata,
	})
	if err != nil {
		s.respondProviderErr(w, r, "create payment session", err)
		return
	}

	respond(w, http.StatusOK, createPaymentSessionResponse{
		URL:       session.URL,
		SessionID: session.ID,
	})
}

// ─── GET /payment/success ─────────────────────────────────────────────────────

// handlePaymentSuccess is the redirect target after a completed checkout.
// It changes no state: the subscription is created by the webhook event, not
// by the browser landing here.
func (s *Server) handlePaymentSuccess(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "payment completed",
	})
}

// ─── GET /payment/cancel ──────────────────────────────────────────────────────

// handlePaymentCancel is the redirect target for an abandoned checkout.
// No state change — the session simply expires on the provider side.
func (s *Server) handlePaymentCancel(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{
		"cancel_url": s.cfg.CancelRedirectURL,
	})
}

// ─── GET /payment/update/{customerID} ─────────────────────────────────────────

type updateSessionResponse struct {
	// URL is the billing-portal page where the customer replaces their stored
	// payment method. The swap itself comes back as a payment_method.attached
	// webhook event.
	URL string `json:"url"`
}

// handleCreateUpdateSession returns a billing-portal URL scoped to the
// customer. The customer must already be known locally — a portal session
// for an id this service has never seen is refused before calling the
// provider.
func (s *Server) handleCreateUpdateSession(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	if customerID == "" {
		respondErr(w, http.StatusBadRequest, "missing customer id")
		return
	}

	subs, err := s.q.ListSubscriptionsByCustomer(r.Context(), customerID)
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("list subscriptions: %w", err))
		return
	}
	if len(subs) == 0 {
		respondErr(w, http.StatusNotFound, "unknown customer")
		return
	}

	url, err := s.stripe.CreatePortalSession(r.Context(), customerID, s.cfg.PortalReturnURL)
	if err != nil {
		s.respondProviderErr(w, r, "create portal session", err)
		return
	}

	respond(w, http.StatusOK, updateSessionResponse{URL: url})
}

// ─── HELPERS ─────────────────────────────────────────────────────────────────

// validateRequest runs struct-tag validation and writes a 400 on failure.
func (s *Server) validateRequest(w http.ResponseWriter, req any) bool {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			respondErr(w, http.StatusBadRequest,
				fmt.Sprintf("invalid field %q: failed %q", verrs[0].Field(), verrs[0].Tag()))
			return false
		}
		respondErr(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

// respondProviderErr surfaces a Stripe failure to the HTTP caller. Caller
// mistakes (bad price id, declined card) get a 400 with the provider's own
// message; provider-side failures get a generic 502. Either way the failure
// is logged with full detail for the operator.
func (s *Server) respondProviderErr(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := stripeinternal.HTTPStatusFor(err)

	s.logger.Error("stripe call failed",
		"op", op,
		"status", status,
		"error", err,
		logField(r),
	)

	if status == http.StatusBadRequest {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
			respondErr(w, status, stripeErr.Msg)
			return
		}
	}
	respondErr(w, status, "payment provider request failed")
}
