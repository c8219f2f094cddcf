package store

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// ─── SENTINELS ───────────────────────────────────────────────────────────────

// ErrSubscriptionExists is returned by ActivateSubscription when a row for
// the subscription id already exists. The lifecycle handler treats this as
// idempotent success — a duplicate delivery of checkout.session.completed
// must not create a second record or fail the webhook.
var ErrSubscriptionExists = errors.New("store: subscription already exists")

// ErrSubscriptionNotFound is returned when an event references a subscription
// this service has never recorded. Handlers log it and acknowledge the event;
// asking the provider to redeliver cannot make the record appear.
var ErrSubscriptionNotFound = errors.New("store: subscription not found")

// ─── RETRY CLASSIFICATION ────────────────────────────────────────────────────

// pq error codes that indicate a transient write conflict rather than a
// permanent failure. Class 08 covers connection-level faults.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// IsRetryable reports whether err is a persistence failure worth retrying:
// a serialization abort from two serializable transactions racing on the
// same record, a deadlock, or a dropped connection. Business outcomes
// (sentinels above, sql.ErrNoRows) are never retryable.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqSerializationFailure, pqDeadlockDetected:
			return true
		}
		if strings.HasPrefix(string(pqErr.Code), "08") {
			return true
		}
	}
	return false
}
