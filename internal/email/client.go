// Package email defines the interface for transactional email delivery and
// provides a Resend-backed implementation. Sends are fire-and-forget from
// the caller's point of view: the billing handlers log failures and move on.
package email

import (
	"context"
	"log/slog"
)

// WelcomeParams holds the data for the post-activation welcome email.
type WelcomeParams struct {
	To     string
	PlanID string // shown in the email body
}

// CanceledParams holds the data for the cancellation notice.
type CanceledParams struct {
	To string
}

// Sender is the interface the billing package uses to send email.
// Tests inject a stub that records calls without hitting the network.
type Sender interface {
	// SendSubscriptionWelcome sends the welcome email after a subscription
	// is activated by a completed checkout.
	SendSubscriptionWelcome(ctx context.Context, p WelcomeParams) error

	// SendSubscriptionCanceled sends the cancellation notice after a
	// subscription transitions to canceled.
	SendSubscriptionCanceled(ctx context.Context, p CanceledParams) error
}

// ─── LOG SENDER ──────────────────────────────────────────────────────────────

// logSender is the development fallback used when no Resend key is
// configured: it logs what would have been sent and reports success.
type logSender struct {
	logger *slog.Logger
}

// NewLogSender returns a Sender that only logs. Used in development.
func NewLogSender(logger *slog.Logger) Sender {
	return &logSender{logger: logger}
}

func (s *logSender) SendSubscriptionWelcome(_ context.Context, p WelcomeParams) error {
	s.logger.Info("email: (dev) would send welcome", "to", p.To, "plan_id", p.PlanID)
	return nil
}

func (s *logSender) SendSubscriptionCanceled(_ context.Context, p CanceledParams) error {
	s.logger.Info("email: (dev) would send cancellation notice", "to", p.To)
	return nil
}
