// Package worker contains the background redelivery pipeline for webhook
// events whose processing failed. It is intentionally decoupled from the
// HTTP layer: the api package holds a worker.Enqueuer interface and calls
// Enqueue — it never imports the concrete Runner type.
//
// The provider is always answered with an acknowledgment, so a failed event
// would otherwise be lost. Instead the event row is marked failed and this
// package retries it: a fast path through the in-process channel, and a
// poller that sweeps the stripe_events table for anything missed (including
// failures from before a restart).
package worker

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nullware/subscription-payment/internal/billing"
	"github.com/nullware/subscription-payment/internal/db"
	"github.com/nullware/subscription-payment/internal/stripe"
)

// ─── ENQUEUER INTERFACE ───────────────────────────────────────────────────────

// Enqueuer is the narrow interface the api package uses to hand off a failed
// event for background retry. Keeping it here (not in api/) means api/ does
// not need to import worker/.
//
// The concrete implementation is *Runner. In tests, any struct with an
// Enqueue method satisfies the interface.
type Enqueuer interface {
	Enqueue(ctx context.Context, stripeEventID string) error
}

// ─── RUNNER ───────────────────────────────────────────────────────────────────

// RunnerConfig holds tuning parameters for the Runner. Zero values take the
// defaults noted per field.
type RunnerConfig struct {
	// Workers is the number of concurrent redelivery goroutines. Default: 3.
	Workers int

	// PollInterval is how often the fallback poller sweeps stripe_events for
	// failed rows that were missed by the in-process channel. Default: 30s.
	PollInterval time.Duration

	// MaxRetries caps how many times one event is redelivered before it is
	// left failed for operator follow-up. Default: 3.
	MaxRetries int
}

// eventTimeout bounds one redelivery attempt: a provider resolution call,
// a handful of queries, and possibly a detach loop.
const eventTimeout = 60 * time.Second

// Runner manages the redelivery pool. It accepts event ids via an in-process
// channel (fast path, pushed by the webhook handler when a dispatch fails)
// and also polls the database periodically to pick up failed events from
// before a restart (recovery path).
type Runner struct {
	q          db.Querier
	dispatcher billing.EventDispatcher
	cfg        RunnerConfig
	logger     *slog.Logger

	queue chan string
	wg    sync.WaitGroup
}

// NewRunner constructs a Runner. Call Start() to begin processing.
func NewRunner(q db.Querier, dispatcher billing.EventDispatcher, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	return &Runner{
		q:          q,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		// Buffer = Workers*2 so Enqueue rarely hits the full-queue path.
		queue: make(chan string, cfg.Workers*2),
	}
}

// Enqueue pushes an event id onto the in-process channel. It satisfies the
// Enqueuer interface. If the channel is full it returns an error rather than
// blocking the HTTP response — the poller will pick the event up instead.
func (r *Runner) Enqueue(_ context.Context, stripeEventID string) error {
	select {
	case r.queue <- stripeEventID:
		r.logger.Info("worker: enqueued event for retry", "event_id", stripeEventID)
		return nil
	default:
		return errors.New("worker: queue is full, event will be picked up by poller")
	}
}

// Start launches the worker pool and the fallback poller. It blocks until ctx
// is cancelled. Call it in a goroutine from main:
//
//	go runner.Start(ctx)
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("worker: starting", "workers", r.cfg.Workers, "poll_interval", r.cfg.PollInterval)

	for i := range r.cfg.Workers {
		r.wg.Add(1)
		go r.work(ctx, i)
	}

	r.wg.Add(1)
	go r.poll(ctx)

	r.wg.Wait()
	r.logger.Info("worker: stopped")
}

// work is the inner loop for each worker goroutine.
func (r *Runner) work(ctx context.Context, id int) {
	defer r.wg.Done()
	log := r.logger.With("worker_id", id)
	log.Info("worker: goroutine started")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker: goroutine stopping")
			return
		case eventID := <-r.queue:
			r.redeliver(ctx, eventID, log)
		}
	}
}

// poll sweeps stripe_events on PollInterval for failed rows still under the
// retry cap — events whose fast-path enqueue was dropped, and events that
// failed before the last restart.
func (r *Runner) poll(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	// Run once immediately on startup to pick up anything from before restart.
	r.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

func (r *Runner) pollOnce(ctx context.Context) {
	events, err := r.q.ListRetryableStripeEvents(ctx, int32(r.cfg.MaxRetries))
	if err != nil {
		r.logger.Error("worker: poll failed", "error", err)
		return
	}
	for _, ev := range events {
		select {
		case r.queue <- ev.StripeEventID:
			r.logger.Debug("worker: poller enqueued event", "event_id", ev.StripeEventID)
		default:
			// Queue full — will be picked up next poll cycle.
		}
	}
}

// redeliver re-parses the stored payload and runs it through the dispatcher
// again. The payload was signature-verified when first received, so no
// re-verification is possible or needed here.
func (r *Runner) redeliver(ctx context.Context, eventID string, log *slog.Logger) {
	evCtx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	row, err := r.q.GetStripeEventByID(evCtx, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		log.Warn("worker: event row vanished", "event_id", eventID)
		return
	}
	if err != nil {
		log.Error("worker: load event", "event_id", eventID, "error", err)
		return
	}

	// The fast-path enqueue and the poller can race; re-check the row state
	// so an event processed in between is not run twice, and the retry cap
	// holds even when both paths delivered the same id.
	if row.Status != db.StripeEventStatusFailed {
		log.Debug("worker: event no longer failed, skipping", "event_id", eventID, "status", row.Status)
		return
	}
	if int(row.RetryCount) >= r.cfg.MaxRetries {
		log.Warn("worker: event exhausted retries", "event_id", eventID, "retries", row.RetryCount)
		return
	}

	raw, err := stripe.ParseEvent(row.Payload)
	if err != nil {
		// A payload that no longer parses will never succeed — record and stop.
		r.markFailed(evCtx, eventID, err, log)
		return
	}
	normalized, err := stripe.Normalize(raw)
	if err != nil {
		r.markFailed(evCtx, eventID, err, log)
		return
	}

	if err := r.dispatcher.Dispatch(evCtx, normalized); err != nil {
		log.Warn("worker: redelivery failed",
			"event_id", eventID,
			"attempt", row.RetryCount+1,
			"max", r.cfg.MaxRetries,
			"error", err,
		)
		r.markFailed(evCtx, eventID, err, log)
		return
	}

	if _, err := r.q.MarkStripeEventProcessed(evCtx, eventID); err != nil {
		log.Error("worker: mark processed", "event_id", eventID, "error", err)
		return
	}
	log.Info("worker: event redelivered", "event_id", eventID)
}

func (r *Runner) markFailed(ctx context.Context, eventID string, cause error, log *slog.Logger) {
	_, err := r.q.MarkStripeEventFailed(ctx, db.MarkStripeEventFailedParams{
		StripeEventID: eventID,
		Error:         sql.NullString{String: cause.Error(), Valid: true},
	})
	if err != nil {
		log.Error("worker: mark failed", "event_id", eventID, "error", err)
	}
}
