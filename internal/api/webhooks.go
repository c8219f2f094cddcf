package api

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nullware/subscription-payment/internal/db"
	stripeinternal "github.com/nullware/subscription-payment/internal/stripe"
)

// Stripe webhook bodies are small; anything larger is not a legitimate event.
const maxWebhookBody = 64 << 10

// webhookAck is the only success body Stripe ever sees.
var webhookAck = map[string]bool{"received": true}

// handleStripeWebhook receives provider events. The contract with Stripe is
// receipt, not processing: once the signature checks out and the event is
// recorded, the response is 200 regardless of what the handlers do with it.
// A failed handler marks the event failed and the background runner retries
// it; returning a 5xx here would only make Stripe redeliver an event we
// already hold.
//
// Failure modes, in order:
//   - bad signature        → 400, nothing recorded
//   - duplicate event id   → 200, first delivery already owns it
//   - persistence failure  → 500, Stripe redelivers (the one case we want that)
//   - unparseable payload  → 200, marked failed for the runner
//   - handler failure      → 200, marked failed, immediate re-dispatch queued
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondErr(w, http.StatusBadRequest, "could not read request body")
		return
	}

	raw, err := s.stripe.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"), s.cfg.StripeWebhookSecret)
	if err != nil {
		s.logger.Warn("webhook signature verification failed", "error", err, logField(r))
		respondErr(w, http.StatusBadRequest, "invalid signature")
		return
	}

	_, err = s.q.UpsertStripeEvent(r.Context(), db.UpsertStripeEventParams{
		StripeEventID: raw.ID,
		Type:          raw.Type,
		Payload:       payload,
	})
	if errors.Is(err, sql.ErrNoRows) {
		// Redelivery of an event we already recorded. The first delivery is
		// responsible for processing it (or the runner is, if it failed).
		s.logger.Debug("duplicate stripe event", "event_id", raw.ID, "type", raw.Type)
		respond(w, http.StatusOK, webhookAck)
		return
	}
	if err != nil {
		// The event is not durably ours yet, so this is the one path where a
		// 5xx is correct: Stripe will redeliver.
		s.respondInternalErr(w, r, fmt.Errorf("record stripe event %s: %w", raw.ID, err))
		return
	}

	ev, err := stripeinternal.Normalize(raw)
	if err != nil {
		s.markEventFailed(r, raw.ID, err)
		respond(w, http.StatusOK, webhookAck)
		return
	}

	if err := s.dispatcher.Dispatch(r.Context(), ev); err != nil {
		s.logger.Error("stripe event handler failed",
			"event_id", raw.ID,
			"type", raw.Type,
			"error", err,
		)
		s.markEventFailed(r, raw.ID, err)
		// Fast path: hand the event to the runner now instead of waiting for
		// its next poll. Best effort — the poller picks it up either way.
		if err := s.retrier.Enqueue(r.Context(), raw.ID); err != nil {
			s.logger.Warn("could not enqueue event for retry", "event_id", raw.ID, "error", err)
		}
		respond(w, http.StatusOK, webhookAck)
		return
	}

	if _, err := s.q.MarkStripeEventProcessed(r.Context(), raw.ID); err != nil {
		// Processing succeeded; only the bookkeeping write failed. The runner
		// may redo the event, which every handler tolerates.
		s.logger.Error("could not mark stripe event processed", "event_id", raw.ID, "error", err)
	}

	respond(w, http.StatusOK, webhookAck)
}

func (s *Server) markEventFailed(r *http.Request, eventID string, cause error) {
	_, err := s.q.MarkStripeEventFailed(r.Context(), db.MarkStripeEventFailedParams{
		StripeEventID: eventID,
		Error:         sql.NullString{String: cause.Error(), Valid: true},
	})
	if err != nil {
		s.logger.Error("could not mark stripe event failed", "event_id", eventID, "error", err)
	}
}
