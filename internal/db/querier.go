package db

import (
	"context"
)

// Querier is the interface the store, billing, worker, and api packages
// depend on. Tests satisfy it with in-memory stubs; *Queries is the
// production implementation.
type Querier interface {
	// ── Subscriptions ─────────────────────────────────────────────────────────
	CreateSubscription(ctx context.Context, p CreateSubscriptionParams) (Subscription, error)
	GetSubscriptionByID(ctx context.Context, id string) (Subscription, error)
	UpdateSubscriptionPlan(ctx context.Context, p UpdateSubscriptionPlanParams) (Subscription, error)
	CancelSubscription(ctx context.Context, id string) (Subscription, error)
	ListSubscriptionsByCustomer(ctx context.Context, customerID string) ([]Subscription, error)

	// ── Payment methods ───────────────────────────────────────────────────────
	InsertPaymentMethod(ctx context.Context, p InsertPaymentMethodParams) (PaymentMethod, error)
	ListCurrentPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error)
	MarkPaymentMethodDetached(ctx context.Context, id string) (PaymentMethod, error)

	// ── Stripe events ─────────────────────────────────────────────────────────
	UpsertStripeEvent(ctx context.Context, p UpsertStripeEventParams) (StripeEvent, error)
	GetStripeEventByID(ctx context.Context, stripeEventID string) (StripeEvent, error)
	MarkStripeEventProcessed(ctx context.Context, stripeEventID string) (StripeEvent, error)
	MarkStripeEventFailed(ctx context.Context, p MarkStripeEventFailedParams) (StripeEvent, error)
	ListRetryableStripeEvents(ctx context.Context, maxRetries int32) ([]StripeEvent, error)
}

var _ Querier = (*Queries)(nil)
