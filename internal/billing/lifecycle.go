// Package billing is the core of the service: it turns normalized webhook
// events into subscription state transitions and keeps stored payment
// methods consistent. The HTTP layer hands every event to the Dispatcher;
// nothing in this package knows about HTTP or acknowledgments.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nullware/subscription-payment/internal/db"
	"github.com/nullware/subscription-payment/internal/email"
	"github.com/nullware/subscription-payment/internal/store"
	"github.com/nullware/subscription-payment/internal/stripe"
)

// ─── STORE INTERFACES ─────────────────────────────────────────────────────────

// SubscriptionStore is the slice of store behavior the lifecycle needs.
// *store.Store satisfies it; tests inject an in-memory stub.
type SubscriptionStore interface {
	ActivateSubscription(ctx context.Context, p store.ActivateSubscriptionParams) (db.Subscription, error)
	ChangePlan(ctx context.Context, subscriptionID, planID string) (db.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (db.Subscription, error)
}

// ─── LIFECYCLE ────────────────────────────────────────────────────────────────

// Lifecycle owns the subscription state machine:
//
//	(no record) ──checkout.session.completed──▶ active
//	active ──customer.subscription.updated──▶ active (plan_id mutated)
//	active ──customer.subscription.deleted──▶ canceled
//
// Every handler is safe to run more than once with the same event — the
// provider delivers at least once, never exactly once.
type Lifecycle struct {
	store  SubscriptionStore
	stripe stripe.Client
	mailer email.Sender
	logger *slog.Logger
}

// NewLifecycle constructs the state machine with its collaborators.
func NewLifecycle(st SubscriptionStore, client stripe.Client, mailer email.Sender, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{store: st, stripe: client, mailer: mailer, logger: logger}
}

// OnCheckoutCompleted creates the local subscription for a finished checkout.
//
// The event payload names the checkout session, not the subscription, so the
// first step is a provider call that resolves the session to its concrete
// subscription, customer, and plan. Only then is the record created — the
// synchronous /payment/pay endpoint never writes state; this event is the
// single source of subscription creation.
//
// Unresolvable sessions (unknown at the provider) are logged and swallowed:
// redelivery cannot make the session appear, so the event must be
// acknowledged rather than retried forever.
func (l *Lifecycle) OnCheckoutCompleted(ctx context.Context, ev stripe.CheckoutCompleted) error {
	resolved, err := l.stripe.GetCheckoutSubscription(ctx, ev.SessionID)
	if stripe.IsNotFound(err) {
		l.logger.Warn("billing: checkout session unknown to provider",
			"event_id", ev.ID,
			"session_id", ev.SessionID,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("billing: resolve checkout session %s: %w", ev.SessionID, err)
	}

	sub, err := l.store.ActivateSubscription(ctx, store.ActivateSubscriptionParams{
		SubscriptionID: resolved.SubscriptionID,
		CustomerID:     resolved.CustomerID,
		PlanID:         resolved.PlanID,
		CustomerEmail:  resolved.CustomerEmail,
		Metadata:       resolved.Metadata,
	})
	if errors.Is(err, store.ErrSubscriptionExists) {
		// Duplicate delivery — already active, nothing more to do.
		l.logger.Debug("billing: subscription already active",
			"event_id", ev.ID,
			"subscription_id", sub.ID,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("billing: activate subscription %s: %w", resolved.SubscriptionID, err)
	}

	l.logger.Info("billing: subscription activated",
		"subscription_id", sub.ID,
		"customer_id", sub.CustomerID,
		"plan_id", sub.PlanID,
	)

	// Welcome mail is fire-and-forget: a send failure must not fail the
	// event, the subscription is already live.
	if resolved.CustomerEmail != "" {
		if mailErr := l.mailer.SendSubscriptionWelcome(ctx, email.WelcomeParams{
			To:     resolved.CustomerEmail,
			PlanID: sub.PlanID,
		}); mailErr != nil {
			l.logger.Error("billing: welcome email failed",
				"subscription_id", sub.ID,
				"error", mailErr,
			)
		}
	}

	return nil
}

// OnSubscriptionUpdated applies a plan change. The guard is a total function
// over the optional previous plan:
//
//   - previous plan absent  → not a plan change, no write
//   - previous plan == new  → nothing changed, no write
//   - otherwise             → plan_id updated to the event's value
//
// Subscription objects mutate for many reasons (billing anchors, metadata,
// trial fields); skipping the write when the plan did not move keeps those
// unrelated updates from touching the row at all.
func (l *Lifecycle) OnSubscriptionUpdated(ctx context.Context, ev stripe.SubscriptionUpdated) error {
	if ev.PreviousPlanID == nil {
		l.logger.Debug("billing: subscription update without plan change",
			"event_id", ev.ID,
			"subscription_id", ev.SubscriptionID,
		)
		return nil
	}
	if ev.PlanID == "" || *ev.PreviousPlanID == ev.PlanID {
		l.logger.Debug("billing: plan unchanged",
			"event_id", ev.ID,
			"subscription_id", ev.SubscriptionID,
			"plan_id", ev.PlanID,
		)
		return nil
	}

	sub, err := l.store.ChangePlan(ctx, ev.SubscriptionID, ev.PlanID)
	if errors.Is(err, store.ErrSubscriptionNotFound) {
		l.logger.Warn("billing: plan change for unknown subscription",
			"event_id", ev.ID,
			"subscription_id", ev.SubscriptionID,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("billing: change plan for %s: %w", ev.SubscriptionID, err)
	}

	l.logger.Info("billing: plan changed",
		"subscription_id", sub.ID,
		"old_plan_id", *ev.PreviousPlanID,
		"new_plan_id", sub.PlanID,
	)
	return nil
}

// OnSubscriptionDeleted marks the subscription canceled. Replays land on an
// already-canceled row and pass through. The record is kept for history —
// cancellation is the terminal state, not a deletion.
func (l *Lifecycle) OnSubscriptionDeleted(ctx context.Context, ev stripe.SubscriptionDeleted) error {
	sub, err := l.store.CancelSubscription(ctx, ev.SubscriptionID)
	if errors.Is(err, store.ErrSubscriptionNotFound) {
		l.logger.Warn("billing: cancellation for unknown subscription",
			"event_id", ev.ID,
			"subscription_id", ev.SubscriptionID,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("billing: cancel subscription %s: %w", ev.SubscriptionID, err)
	}

	l.logger.Info("billing: subscription canceled",
		"subscription_id", sub.ID,
		"customer_id", sub.CustomerID,
	)

	if sub.CustomerEmail.Valid {
		if mailErr := l.mailer.SendSubscriptionCanceled(ctx, email.CanceledParams{
			To: sub.CustomerEmail.String,
		}); mailErr != nil {
			l.logger.Error("billing: cancellation email failed",
				"subscription_id", sub.ID,
				"error", mailErr,
			)
		}
	}

	return nil
}
