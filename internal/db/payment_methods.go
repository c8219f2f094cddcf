package db

import (
	"context"
	"time"
)

const paymentMethodColumns = `id, customer_id, attached_at, detached_at, created_at`

func scanPaymentMethod(row interface{ Scan(...any) error }) (PaymentMethod, error) {
	var m PaymentMethod
	err := row.Scan(
		&m.ID,
		&m.CustomerID,
		&m.AttachedAt,
		&m.DetachedAt,
		&m.CreatedAt,
	)
	return m, err
}

// InsertPaymentMethodParams records a provider-side attachment locally.
type InsertPaymentMethodParams struct {
	ID         string
	CustomerID string
	AttachedAt time.Time
}

const insertPaymentMethod = `
INSERT INTO payment_methods (id, customer_id, attached_at)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING
RETURNING ` + paymentMethodColumns

// InsertPaymentMethod stores a newly attached method. A duplicate id (webhook
// replay) takes the DO NOTHING path and returns sql.ErrNoRows.
func (q *Queries) InsertPaymentMethod(ctx context.Context, p InsertPaymentMethodParams) (PaymentMethod, error) {
	row := q.db.QueryRowContext(ctx, insertPaymentMethod, p.ID, p.CustomerID, p.AttachedAt)
	return scanPaymentMethod(row)
}

const listCurrentPaymentMethods = `
SELECT ` + paymentMethodColumns + `
FROM payment_methods
WHERE customer_id = $1 AND detached_at IS NULL
ORDER BY attached_at, id`

// ListCurrentPaymentMethods returns the customer's methods that have not been
// detached, oldest attachment first.
func (q *Queries) ListCurrentPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error) {
	rows, err := q.db.QueryContext(ctx, listCurrentPaymentMethods, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var methods []PaymentMethod
	for rows.Next() {
		m, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

const markPaymentMethodDetached = `
UPDATE payment_methods
SET detached_at = now()
WHERE id = $1 AND detached_at IS NULL
RETURNING ` + paymentMethodColumns

// MarkPaymentMethodDetached flips detached_at for a still-current method.
// Returns sql.ErrNoRows when the method was already detached (replay).
func (q *Queries) MarkPaymentMethodDetached(ctx context.Context, id string) (PaymentMethod, error) {
	return scanPaymentMethod(q.db.QueryRowContext(ctx, markPaymentMethodDetached, id))
}
