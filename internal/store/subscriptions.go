package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nullware/subscription-payment/internal/db"
	"github.com/sqlc-dev/pqtype"
)

// ─── INPUT TYPES ─────────────────────────────────────────────────────────────

// ActivateSubscriptionParams is the resolved identity of a completed
// checkout: the concrete subscription, its customer, and the purchased plan.
type ActivateSubscriptionParams struct {
	SubscriptionID string
	CustomerID     string
	PlanID         string
	CustomerEmail  string            // may be empty
	Metadata       map[string]string // checkout session metadata, may be nil
}

// ─── METHODS ─────────────────────────────────────────────────────────────────

// ActivateSubscription creates the local subscription record in active
// status. It is the only place a Subscription row comes into existence — the
// synchronous checkout endpoint never writes one.
//
// Idempotency: the insert is keyed on the provider's subscription id. A
// duplicate delivery of checkout.session.completed re-reads the existing row
// and surfaces ErrSubscriptionExists; the caller logs at debug level and
// treats the event as handled. Two concurrent first deliveries serialize in
// the transaction — one inserts, the other sees the committed row.
func (s *Store) ActivateSubscription(ctx context.Context, p ActivateSubscriptionParams) (db.Subscription, error) {
	var sub db.Subscription

	err := s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		existing, err := q.GetSubscriptionByID(ctx, p.SubscriptionID)
		if err == nil {
			sub = existing
			return ErrSubscriptionExists
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("ActivateSubscription: check existing: %w", err)
		}

		created, err := q.CreateSubscription(ctx, db.CreateSubscriptionParams{
			ID:            p.SubscriptionID,
			CustomerID:    p.CustomerID,
			PlanID:        p.PlanID,
			CustomerEmail: nullString(p.CustomerEmail),
			Metadata:      metadataJSON(p.Metadata),
		})
		if errors.Is(err, sql.ErrNoRows) {
			// ON CONFLICT DO NOTHING path — another transaction committed the
			// row between our read and our insert.
			committed, getErr := q.GetSubscriptionByID(ctx, p.SubscriptionID)
			if getErr != nil {
				return fmt.Errorf("ActivateSubscription: re-read after conflict: %w", getErr)
			}
			sub = committed
			return ErrSubscriptionExists
		}
		if err != nil {
			return fmt.Errorf("ActivateSubscription: create: %w", err)
		}

		sub = created
		return nil
	})

	// Unwrap the sentinel so callers can check with errors.Is without needing
	// to look inside a wrapped error chain.
	if errors.Is(err, ErrSubscriptionExists) {
		return sub, ErrSubscriptionExists
	}
	if err != nil {
		return db.Subscription{}, err
	}

	return sub, nil
}

// ChangePlan updates the subscription's plan id. The stored value is compared
// inside the transaction: writing the same plan twice is a no-op, so a
// replayed plan-change event changes nothing after the first application.
//
// ErrSubscriptionNotFound is returned when no row exists for the id — the
// event referenced a subscription this service never activated.
func (s *Store) ChangePlan(ctx context.Context, subscriptionID, planID string) (db.Subscription, error) {
	var sub db.Subscription

	err := s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		existing, err := q.GetSubscriptionByID(ctx, subscriptionID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSubscriptionNotFound
		}
		if err != nil {
			return fmt.Errorf("ChangePlan: get subscription: %w", err)
		}

		if existing.PlanID == planID {
			// Already on this plan — replayed event or unrelated field change.
			sub = existing
			return nil
		}

		updated, err := q.UpdateSubscriptionPlan(ctx, db.UpdateSubscriptionPlanParams{
			ID:     subscriptionID,
			PlanID: planID,
		})
		if err != nil {
			return fmt.Errorf("ChangePlan: update plan: %w", err)
		}

		sub = updated
		return nil
	})

	if errors.Is(err, ErrSubscriptionNotFound) {
		return db.Subscription{}, ErrSubscriptionNotFound
	}
	if err != nil {
		return db.Subscription{}, err
	}

	return sub, nil
}

// CancelSubscription flips the subscription to canceled. Already-canceled
// rows pass through unchanged, so replayed deletion events are harmless. The
// row itself is retained — cancellation is a status, not a delete.
func (s *Store) CancelSubscription(ctx context.Context, subscriptionID string) (db.Subscription, error) {
	var sub db.Subscription

	err := s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		existing, err := q.GetSubscriptionByID(ctx, subscriptionID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSubscriptionNotFound
		}
		if err != nil {
			return fmt.Errorf("CancelSubscription: get subscription: %w", err)
		}

		if existing.Status == db.SubscriptionStatusCanceled {
			sub = existing
			return nil
		}

		canceled, err := q.CancelSubscription(ctx, subscriptionID)
		if err != nil {
			return fmt.Errorf("CancelSubscription: cancel: %w", err)
		}

		sub = canceled
		return nil
	})

	if errors.Is(err, ErrSubscriptionNotFound) {
		return db.Subscription{}, ErrSubscriptionNotFound
	}
	if err != nil {
		return db.Subscription{}, err
	}

	return sub, nil
}

// ─── HELPERS ─────────────────────────────────────────────────────────────────

// nullString converts a Go string to sql.NullString. Empty string → NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// metadataJSON serialises checkout metadata into a nullable jsonb value.
// Empty metadata → NULL.
func metadataJSON(m map[string]string) pqtype.NullRawMessage {
	if len(m) == 0 {
		return pqtype.NullRawMessage{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		// map[string]string cannot fail to marshal; guard anyway.
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}
}
