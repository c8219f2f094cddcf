// Package stripe is the provider boundary: the interface for Stripe API
// calls and webhook verification, the webhook event envelope, and the
// normalized event types the billing package dispatches on.
package stripe

import (
	"context"
)

// ─── TYPES ────────────────────────────────────────────────────────────────────

// CheckoutParams holds the inputs for creating a subscription checkout
// session. SuccessURL and CancelURL are where Stripe redirects the browser
// after the hosted flow.
type CheckoutParams struct {
	PriceID       string
	Quantity      int64 // defaults to 1 when zero
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

// CheckoutSession is the subset of a Stripe Checkout Session callers need.
type CheckoutSession struct {
	ID  string
	URL string // provider-hosted checkout page
}

// CheckoutSubscription is the concrete subscription a completed checkout
// session resolved to. The completed-checkout event only carries the session
// id; this is the result of following that indirection.
type CheckoutSubscription struct {
	SubscriptionID string
	CustomerID     string
	CustomerEmail  string            // may be empty
	PlanID         string            // price id of the first line item
	Metadata       map[string]string // session metadata, may be nil
}

// ─── CLIENT INTERFACE ─────────────────────────────────────────────────────────

// Client is the interface the api and billing packages use for all Stripe
// calls. The concrete implementation wraps the official stripe-go SDK.
// Tests inject a stub.
type Client interface {
	// CreateCheckoutSession starts a subscription checkout and returns the
	// hosted page URL. No local state is written — the subscription record is
	// only created when the checkout.session.completed event arrives.
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error)

	// GetCheckoutSubscription resolves a completed checkout session to its
	// subscription, customer, and plan.
	GetCheckoutSubscription(ctx context.Context, sessionID string) (CheckoutSubscription, error)

	// CreatePortalSession returns a billing-portal URL scoped to the customer,
	// letting them replace their stored payment method without a new checkout.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)

	// DetachPaymentMethod detaches a stored payment method from its customer
	// on the provider side.
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error

	// VerifyWebhook validates the Stripe-Signature header against the raw
	// payload and returns the parsed envelope. Returns an error if the
	// signature is invalid or expired — such payloads are never dispatched.
	VerifyWebhook(payload []byte, sigHeader string, secret string) (RawEvent, error)
}
