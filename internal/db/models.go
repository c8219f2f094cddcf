package db

import (
	"database/sql"
	"time"

	"github.com/sqlc-dev/pqtype"
)

// ─── ENUMS ───────────────────────────────────────────────────────────────────

// SubscriptionStatus mirrors the subscription_status Postgres enum.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// StripeEventStatus mirrors the stripe_event_status Postgres enum.
type StripeEventStatus string

const (
	StripeEventStatusReceived  StripeEventStatus = "received"
	StripeEventStatusProcessed StripeEventStatus = "processed"
	StripeEventStatusFailed    StripeEventStatus = "failed"
)

// ─── ROWS ────────────────────────────────────────────────────────────────────

// Subscription is a customer's recurring billing relationship. The primary
// key is the Stripe subscription id — rows only exist after a
// checkout.session.completed event has been applied, never speculatively.
// Rows are never deleted; cancellation flips Status.
type Subscription struct {
	ID            string // Stripe subscription id, immutable
	CustomerID    string // Stripe customer id, immutable
	PlanID        string // current price/plan id, mutated by plan-change events
	CustomerEmail sql.NullString
	Status        SubscriptionStatus
	Metadata      pqtype.NullRawMessage // checkout session metadata snapshot
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PaymentMethod is a stored instrument belonging to a customer. A method is
// "current" while DetachedAt is null; superseded methods are flipped, not
// deleted.
type PaymentMethod struct {
	ID         string // Stripe payment method id, immutable
	CustomerID string
	AttachedAt time.Time // ordering key — the provider's attach timestamp
	DetachedAt sql.NullTime
	CreatedAt  time.Time
}

// StripeEvent records every authenticated webhook delivery, keyed by the
// provider's event id. The primary key is the dedup guard for webhook
// retries; Status and RetryCount drive the background redelivery worker.
type StripeEvent struct {
	StripeEventID string
	Type          string
	Payload       []byte // raw event envelope as received, jsonb
	Status        StripeEventStatus
	Error         sql.NullString
	RetryCount    int32
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
