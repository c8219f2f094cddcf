package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nullware/subscription-payment/internal/db"
	"github.com/nullware/subscription-payment/internal/store"
	"github.com/nullware/subscription-payment/internal/stripe"
)

// PaymentMethodStore is the slice of store behavior the reconciler needs.
// *store.Store satisfies it.
type PaymentMethodStore interface {
	RecordPaymentMethod(ctx context.Context, p store.RecordPaymentMethodParams) ([]db.PaymentMethod, error)
	DetachPaymentMethodLocally(ctx context.Context, paymentMethodID string) error
}

// Reconciler keeps each customer at exactly one current payment method. When
// the provider reports a new attachment, every superseded method is detached
// with the provider — an explicit API call, not just a local flag — and then
// flipped locally.
type Reconciler struct {
	store  PaymentMethodStore
	stripe stripe.Client
	logger *slog.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(st PaymentMethodStore, client stripe.Client, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: st, stripe: client, logger: logger}
}

// OnPaymentMethodAttached records the method and retires whatever it
// supersedes. The stale set is computed transactionally (see
// store.RecordPaymentMethod for the concurrency and ordering reasoning), so
// two attach events for the same customer racing through here agree on which
// method survives.
//
// Detach failures are collected and returned rather than aborting the loop:
// one stuck method must not keep the others attached. The caller records the
// error against the event and the redelivery worker retries it later — a
// replay recomputes the stale set and picks up exactly the methods that are
// still current.
func (r *Reconciler) OnPaymentMethodAttached(ctx context.Context, ev stripe.PaymentMethodAttached) error {
	stale, err := r.store.RecordPaymentMethod(ctx, store.RecordPaymentMethodParams{
		PaymentMethodID: ev.PaymentMethodID,
		CustomerID:      ev.CustomerID,
		AttachedAt:      ev.AttachedAt,
	})
	if err != nil {
		return fmt.Errorf("billing: record payment method %s: %w", ev.PaymentMethodID, err)
	}

	var detachErrs []error
	for _, method := range stale {
		if err := r.stripe.DetachPaymentMethod(ctx, method.ID); err != nil && !stripe.IsNotFound(err) {
			detachErrs = append(detachErrs, err)
			continue
		}
		// Provider-side detach done (or the method was already gone there) —
		// now the local flag can follow.
		if err := r.store.DetachPaymentMethodLocally(ctx, method.ID); err != nil {
			detachErrs = append(detachErrs, err)
			continue
		}
		r.logger.Info("billing: payment method detached",
			"event_id", ev.ID,
			"customer_id", ev.CustomerID,
			"detached", method.ID,
			"superseded_by", ev.PaymentMethodID,
		)
	}

	if len(detachErrs) > 0 {
		return fmt.Errorf("billing: reconcile payment methods for %s: %w",
			ev.CustomerID, errors.Join(detachErrs...))
	}
	return nil
}
