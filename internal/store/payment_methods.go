package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nullware/subscription-payment/internal/db"
)

// ─── INPUT TYPES ─────────────────────────────────────────────────────────────

// RecordPaymentMethodParams describes a provider-side attachment.
type RecordPaymentMethodParams struct {
	PaymentMethodID string
	CustomerID      string
	AttachedAt      time.Time
}

// ─── METHODS ─────────────────────────────────────────────────────────────────

// RecordPaymentMethod inserts the attached method and computes, in the same
// transaction, which of the customer's current methods it supersedes. The
// returned slice is every current method except the newest by attached_at —
// the reconciler detaches those with the provider and then flips them locally.
//
// Keeping only the newest (rather than "everything older than the incoming
// one") matters when attach events arrive out of order: if the replacement
// card's event lands first and the original card's event second, the late
// event must not resurrect the original as current. Whatever the delivery
// order, the settled state is one current method — the latest attachment.
//
// Replays are safe: a duplicate attach event re-inserts nothing (conflict on
// the method id) and recomputes the same stale set, which is empty once the
// prior methods have been flipped.
func (s *Store) RecordPaymentMethod(ctx context.Context, p RecordPaymentMethodParams) ([]db.PaymentMethod, error) {
	var stale []db.PaymentMethod

	err := s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		_, err := q.InsertPaymentMethod(ctx, db.InsertPaymentMethodParams{
			ID:         p.PaymentMethodID,
			CustomerID: p.CustomerID,
			AttachedAt: p.AttachedAt,
		})
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("RecordPaymentMethod: insert: %w", err)
		}

		current, err := q.ListCurrentPaymentMethods(ctx, p.CustomerID)
		if err != nil {
			return fmt.Errorf("RecordPaymentMethod: list current: %w", err)
		}
		if len(current) <= 1 {
			stale = nil
			return nil
		}

		// current is ordered by (attached_at, id); the last entry is the one
		// that stays. Everything before it is superseded.
		stale = current[:len(current)-1]
		return nil
	})
	if err != nil {
		return nil, err
	}

	return stale, nil
}

// DetachPaymentMethodLocally flips detached_at for one method. Called by the
// reconciler only after the provider-side detach succeeded, so the local flag
// never claims a detachment that did not happen. An already-detached method
// (replayed reconciliation) is not an error.
func (s *Store) DetachPaymentMethodLocally(ctx context.Context, paymentMethodID string) error {
	_, err := s.q.MarkPaymentMethodDetached(ctx, paymentMethodID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("DetachPaymentMethodLocally: %w", err)
	}
	return nil
}
