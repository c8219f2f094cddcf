package db

import (
	"context"
	"database/sql"

	"github.com/sqlc-dev/pqtype"
)

const subscriptionColumns = `id, customer_id, plan_id, customer_email, status, metadata, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (Subscription, error) {
	var s Subscription
	err := row.Scan(
		&s.ID,
		&s.CustomerID,
		&s.PlanID,
		&s.CustomerEmail,
		&s.Status,
		&s.Metadata,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	return s, err
}

// CreateSubscriptionParams are the immutable identity fields plus the initial
// plan, captured from the resolved checkout session.
type CreateSubscriptionParams struct {
	ID            string
	CustomerID    string
	PlanID        string
	CustomerEmail sql.NullString
	Metadata      pqtype.NullRawMessage
}

const createSubscription = `
INSERT INTO subscriptions (id, customer_id, plan_id, customer_email, status, metadata)
VALUES ($1, $2, $3, $4, 'active', $5)
ON CONFLICT (id) DO NOTHING
RETURNING ` + subscriptionColumns

// CreateSubscription inserts a new active subscription. A duplicate id takes
// the DO NOTHING path and returns sql.ErrNoRows — callers treat that as
// "already created" (idempotent webhook replay).
func (q *Queries) CreateSubscription(ctx context.Context, p CreateSubscriptionParams) (Subscription, error) {
	row := q.db.QueryRowContext(ctx, createSubscription,
		p.ID, p.CustomerID, p.PlanID, p.CustomerEmail, p.Metadata)
	return scanSubscription(row)
}

const getSubscriptionByID = `
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE id = $1`

func (q *Queries) GetSubscriptionByID(ctx context.Context, id string) (Subscription, error) {
	return scanSubscription(q.db.QueryRowContext(ctx, getSubscriptionByID, id))
}

// UpdateSubscriptionPlanParams carries a plan change for one subscription.
type UpdateSubscriptionPlanParams struct {
	ID     string
	PlanID string
}

const updateSubscriptionPlan = `
UPDATE subscriptions
SET plan_id = $2, updated_at = now()
WHERE id = $1
RETURNING ` + subscriptionColumns

func (q *Queries) UpdateSubscriptionPlan(ctx context.Context, p UpdateSubscriptionPlanParams) (Subscription, error) {
	return scanSubscription(q.db.QueryRowContext(ctx, updateSubscriptionPlan, p.ID, p.PlanID))
}

const cancelSubscription = `
UPDATE subscriptions
SET status = 'canceled', updated_at = now()
WHERE id = $1
RETURNING ` + subscriptionColumns

// CancelSubscription flips status to canceled. Setting the same value twice
// is a no-op at the data level, so replays are harmless.
func (q *Queries) CancelSubscription(ctx context.Context, id string) (Subscription, error) {
	return scanSubscription(q.db.QueryRowContext(ctx, cancelSubscription, id))
}

const listSubscriptionsByCustomer = `
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE customer_id = $1
ORDER BY created_at`

func (q *Queries) ListSubscriptionsByCustomer(ctx context.Context, customerID string) ([]Subscription, error) {
	rows, err := q.db.QueryContext(ctx, listSubscriptionsByCustomer, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}
