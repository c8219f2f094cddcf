package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nullware/subscription-payment/internal/store"
	"github.com/nullware/subscription-payment/internal/stripe"
)

// ─── INTERFACE ────────────────────────────────────────────────────────────────

// EventDispatcher is the narrow interface the api and worker packages use to
// hand a normalized event to the core. Keeping it here means neither needs to
// import the concrete Dispatcher wiring; tests satisfy it with a stub.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev stripe.Event) error
}

// ─── DISPATCHER ───────────────────────────────────────────────────────────────

// Dispatcher routes each normalized event to exactly one handler. The type
// switch over the Event sum type is exhaustive: a new variant added to the
// stripe package without a case here falls into the default branch, which is
// a loud error rather than a silent drop.
//
// A returned error means the event's effects are incomplete — the caller is
// responsible for recording that (and still acknowledging the delivery; the
// ack contract lives in the HTTP layer, not here).
type Dispatcher struct {
	lifecycle  *Lifecycle
	reconciler *Reconciler
	logger     *slog.Logger

	// maxAttempts bounds in-line retries of transient persistence failures
	// (serialization aborts from racing deliveries, dropped connections).
	maxAttempts int
}

// NewDispatcher constructs a Dispatcher. maxAttempts <= 0 defaults to 3.
func NewDispatcher(lifecycle *Lifecycle, reconciler *Reconciler, maxAttempts int, logger *slog.Logger) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Dispatcher{
		lifecycle:   lifecycle,
		reconciler:  reconciler,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Dispatch routes ev to its handler, retrying transient persistence failures.
func (d *Dispatcher) Dispatch(ctx context.Context, ev stripe.Event) error {
	switch ev := ev.(type) {
	case stripe.CheckoutCompleted:
		return d.withRetry(ctx, ev.ID, func(ctx context.Context) error {
			return d.lifecycle.OnCheckoutCompleted(ctx, ev)
		})

	case stripe.SubscriptionUpdated:
		return d.withRetry(ctx, ev.ID, func(ctx context.Context) error {
			return d.lifecycle.OnSubscriptionUpdated(ctx, ev)
		})

	case stripe.SubscriptionDeleted:
		return d.withRetry(ctx, ev.ID, func(ctx context.Context) error {
			return d.lifecycle.OnSubscriptionDeleted(ctx, ev)
		})

	case stripe.PaymentMethodAttached:
		return d.withRetry(ctx, ev.ID, func(ctx context.Context) error {
			return d.reconciler.OnPaymentMethodAttached(ctx, ev)
		})

	case stripe.Ignored:
		d.logger.Debug("billing: ignored event", "event_id", ev.ID, "type", ev.Type)
		return nil

	default:
		// Unreachable while the switch covers every variant of the sealed
		// Event interface; a new variant lands here until a case is written.
		return fmt.Errorf("billing: no handler for event variant %T", ev)
	}
}

// withRetry runs fn up to maxAttempts times, backing off between attempts,
// but only for errors store.IsRetryable classifies as transient. Business
// outcomes and provider failures return immediately — retrying a permanent
// failure in-line would just delay the acknowledgment.
func (d *Dispatcher) withRetry(ctx context.Context, eventID string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !store.IsRetryable(lastErr) {
			return lastErr
		}

		d.logger.Warn("billing: transient persistence failure",
			"event_id", eventID,
			"attempt", attempt,
			"max", d.maxAttempts,
			"error", lastErr,
		)

		if attempt < d.maxAttempts {
			// 100ms, 200ms, 400ms … — short enough to finish well inside the
			// provider's delivery timeout.
			backoff := time.Duration(50<<attempt) * time.Millisecond
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(backoff):
			}
		}
	}

	return lastErr
}
