package db

import (
	"context"
	"database/sql"
	"encoding/json"
)

const stripeEventColumns = `stripe_event_id, type, payload, status, error, retry_count, created_at, updated_at`

func scanStripeEvent(row interface{ Scan(...any) error }) (StripeEvent, error) {
	var e StripeEvent
	err := row.Scan(
		&e.StripeEventID,
		&e.Type,
		&e.Payload,
		&e.Status,
		&e.Error,
		&e.RetryCount,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	return e, err
}

// UpsertStripeEventParams records one authenticated webhook delivery.
type UpsertStripeEventParams struct {
	StripeEventID string
	Type          string
	Payload       json.RawMessage
}

const upsertStripeEvent = `
INSERT INTO stripe_events (stripe_event_id, type, payload)
VALUES ($1, $2, $3)
ON CONFLICT (stripe_event_id) DO NOTHING
RETURNING ` + stripeEventColumns

// UpsertStripeEvent inserts the event row that deduplicates webhook retries.
// A duplicate event id returns sql.ErrNoRows — the caller acks immediately
// without re-dispatching.
func (q *Queries) UpsertStripeEvent(ctx context.Context, p UpsertStripeEventParams) (StripeEvent, error) {
	row := q.db.QueryRowContext(ctx, upsertStripeEvent, p.StripeEventID, p.Type, []byte(p.Payload))
	return scanStripeEvent(row)
}

const getStripeEventByID = `
SELECT ` + stripeEventColumns + `
FROM stripe_events
WHERE stripe_event_id = $1`

func (q *Queries) GetStripeEventByID(ctx context.Context, stripeEventID string) (StripeEvent, error) {
	return scanStripeEvent(q.db.QueryRowContext(ctx, getStripeEventByID, stripeEventID))
}

const markStripeEventProcessed = `
UPDATE stripe_events
SET status = 'processed', error = NULL, updated_at = now()
WHERE stripe_event_id = $1
RETURNING ` + stripeEventColumns

func (q *Queries) MarkStripeEventProcessed(ctx context.Context, stripeEventID string) (StripeEvent, error) {
	return scanStripeEvent(q.db.QueryRowContext(ctx, markStripeEventProcessed, stripeEventID))
}

// MarkStripeEventFailedParams records a handler failure against the event.
type MarkStripeEventFailedParams struct {
	StripeEventID string
	Error         sql.NullString
}

const markStripeEventFailed = `
UPDATE stripe_events
SET status = 'failed', error = $2, retry_count = retry_count + 1, updated_at = now()
WHERE stripe_event_id = $1
RETURNING ` + stripeEventColumns

// MarkStripeEventFailed flips the event to failed and bumps retry_count. The
// redelivery worker picks failed events back up until the retry cap.
func (q *Queries) MarkStripeEventFailed(ctx context.Context, p MarkStripeEventFailedParams) (StripeEvent, error) {
	return scanStripeEvent(q.db.QueryRowContext(ctx, markStripeEventFailed, p.StripeEventID, p.Error))
}

const listRetryableStripeEvents = `
SELECT ` + stripeEventColumns + `
FROM stripe_events
WHERE status = 'failed' AND retry_count < $1
ORDER BY created_at
LIMIT 50`

// ListRetryableStripeEvents returns failed events still below the retry cap,
// oldest first. The LIMIT bounds each poll cycle.
func (q *Queries) ListRetryableStripeEvents(ctx context.Context, maxRetries int32) ([]StripeEvent, error) {
	rows, err := q.db.QueryContext(ctx, listRetryableStripeEvents, maxRetries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StripeEvent
	for rows.Next() {
		e, err := scanStripeEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
