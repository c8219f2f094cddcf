package store_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/nullware/subscription-payment/internal/db"
	"github.com/nullware/subscription-payment/internal/store"
)

// ─── TEST INFRASTRUCTURE ──────────────────────────────────────────────────────

// openTestDB returns a *sql.DB from DATABASE_URL. Skips if the env var is
// not set so the test suite still passes in CI without a Postgres instance.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set — skipping store integration tests")
	}
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if err := pool.PingContext(context.Background()); err != nil {
		pool.Close()
		t.Fatalf("ping: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func newTestStore(t *testing.T) (*sql.DB, *store.Store) {
	t.Helper()
	pool := openTestDB(t)
	return pool, store.New(pool, db.New(pool))
}

func cleanupSubscription(t *testing.T, pool *sql.DB, subscriptionID string) {
	t.Helper()
	t.Cleanup(func() {
		_, _ = pool.ExecContext(context.Background(),
			"DELETE FROM subscriptions WHERE id=$1", subscriptionID)
	})
}

func cleanupPaymentMethods(t *testing.T, pool *sql.DB, customerID string) {
	t.Helper()
	t.Cleanup(func() {
		_, _ = pool.ExecContext(context.Background(),
			"DELETE FROM payment_methods WHERE customer_id=$1", customerID)
	})
}

// ─── ActivateSubscription ─────────────────────────────────────────────────────

func TestActivateSubscription_FirstCallCreatesActiveRow(t *testing.T) {
	pool, st := newTestStore(t)
	ctx := context.Background()

	subID := "sub_activate_" + t.Name()
	cleanupSubscription(t, pool, subID)

	sub, err := st.ActivateSubscription(ctx, store.ActivateSubscriptionParams{
		SubscriptionID: subID,
		CustomerID:     "cus_test",
		PlanID:         "plan_basic",
		CustomerEmail:  "jo@example.com",
		Metadata:       map[string]string{"ref": "launch"},
	})
	if err != nil {
		t.Fatalf("ActivateSubscription: %v", err)
	}
	if sub.Status != db.SubscriptionStatusActive {
		t.Errorf("expected status=active, got %s", sub.Status)
	}
	if sub.PlanID != "plan_basic" {
		t.Errorf("plan_id: got %q", sub.PlanID)
	}
	if !sub.CustomerEmail.Valid || sub.CustomerEmail.String != "jo@example.com" {
		t.Errorf("customer_email: %+v", sub.CustomerEmail)
	}
	if !sub.Metadata.Valid {
		t.Error("expected metadata to be stored")
	}
}

func TestActivateSubscription_DuplicateReturnsErrSubscriptionExists(t *testing.T) {
	pool, st := newTestStore(t)
	ctx := context.Background()

	subID := "sub_dup_" + t.Name()
	cleanupSubscription(t, pool, subID)

	params := store.ActivateSubscriptionParams{
		SubscriptionID: subID,
		CustomerID:     "cus_test",
		PlanID:         "plan_basic",
	}

	first, err := st.ActivateSubscription(ctx, params)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}

	// Second delivery of the same event must surface the sentinel and the
	// existing row, not create a duplicate.
	second, err := st.ActivateSubscription(ctx, params)
	if !errors.Is(err, store.ErrSubscriptionExists) {
		t.Errorf("expected ErrSubscriptionExists, got: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("returned subscription mismatch: got %s, want %s", second.ID, first.ID)
	}
}

// ─── ChangePlan ───────────────────────────────────────────────────────────────

func TestChangePlan_UpdatesPlanID(t *testing.T) {
	pool, st := newTestStore(t)
	ctx := context.Background()

	subID := "sub_change_" + t.Name()
	cleanupSubscription(t, pool, subID)

	if _, err := st.ActivateSubscription(ctx, store.ActivateSubscriptionParams{
		SubscriptionID: subID, CustomerID: "cus_test", PlanID: "plan_basic",
	}); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	sub, err := st.ChangePlan(ctx, subID, "plan_pro")
	if err != nil {
		t.Fatalf("ChangePlan: %v", err)
	}
	if sub.PlanID != "plan_pro" {
		t.Errorf("plan_id: got %q", sub.PlanID)
	}
	if sub.Status != db.SubscriptionStatusActive {
		t.Errorf("status must stay active, got %s", sub.Status)
	}
}

func TestChangePlan_SamePlanIsNoOp(t *testing.T) {
	pool, st := newTestStore(t)
	ctx := context.Background()

	subID := "sub_noop_" + t.Name()
	cleanupSubscription(t, pool, subID)

	seeded, err := st.ActivateSubscription(ctx, store.ActivateSubscriptionParams{
		SubscriptionID: subID, CustomerID: "cus_test", PlanID: "plan_basic",
	})
	if err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	sub, err := st.ChangePlan(ctx, subID, "plan_basic")
	if err != nil {
		t.Fatalf("ChangePlan: %v", err)
	}
	if !sub.UpdatedAt.Equal(seeded.UpdatedAt) {
		t.Error("writing the same plan must not touch the row")
	}
}

func TestChangePlan_UnknownSubscriptionReturnsNotFound(t *testing.T) {
	_, st := newTestStore(t)

	_, err := st.ChangePlan(context.Background(), "sub_nonexistent_"+t.Name(), "plan_pro")
	if !errors.Is(err, store.ErrSubscriptionNotFound) {
		t.Errorf("expected ErrSubscriptionNotFound, got: %v", err)
	}
}

// ─── CancelSubscription ───────────────────────────────────────────────────────

func TestCancelSubscription_FlipsStatus(t *testing.T) {
	pool, st := newTestStore(t)
	ctx := context.Background()

	subID := "sub_cancel_" + t.Name()
	cleanupSubscription(t, pool, subID)

	if _, err := st.ActivateSubscription(ctx, store.ActivateSubscriptionParams{
		SubscriptionID: subID, CustomerID: "cus_test", PlanID: "plan_basic",
	}); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	sub, err := st.CancelSubscription(ctx, subID)
	if err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}
	if sub.Status != db.SubscriptionStatusCanceled {
		t.Errorf("expected status=canceled, got %s", sub.Status)
	}
}

func TestCancelSubscription_ReplayIsIdempotent(t *testing.T) {
	pool, st := newTestStore(t)
	ctx := context.Background()

	subID := "sub_cancel_replay_" + t.Name()
	cleanupSubscription(t, pool, subID)

	if _, err := st.ActivateSubscription(ctx, store.ActivateSubscriptionParams{
		SubscriptionID: subID, CustomerID: "cus_test", PlanID: "plan_basic",
	}); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	first, err := st.CancelSubscription(ctx, subID)
	if err != nil {
		t.Fatalf("first cancel: %v", err)
	}

	second, err := st.CancelSubscription(ctx, subID)
	if err != nil {
		t.Fatalf("replayed cancel must succeed: %v", err)
	}
	if second.Status != db.SubscriptionStatusCanceled {
		t.Errorf("expected status=canceled, got %s", second.Status)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Error("replayed cancel must not touch the row again")
	}
}

// ─── RecordPaymentMethod ──────────────────────────────────────────────────────

func TestRecordPaymentMethod_FirstMethodHasNoStale(t *testing.T) {
	pool, st := newTestStore(t)
	ctx := context.Background()

	customerID := "cus_pm_first_" + t.Name()
	cleanupPaymentMethods(t, pool, customerID)

	stale, err := st.RecordPaymentMethod(ctx, store.RecordPaymentMethodParams{
		PaymentMethodID: "pm_first_" + t.Name(),
		CustomerID:      customerID,
		AttachedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("RecordPaymentMethod: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("first method must supersede nothing, got %d stale", len(stale))
	}
}

func TestRecordPaymentMethod_NewerMethodSupersedesOlder(t *testing.T) {
	pool, st := newTestStore(t)
	ctx := context.Background()

	customerID := "cus_pm_swap_" + t.Name()
	cleanupPaymentMethods(t, pool, customerID)

	oldID := "pm_old_" + t.Name()
	newID := "pm_new_" + t.Name()
	base := time.Now().UTC().Add(-time.Hour)

	if _, err := st.RecordPaymentMethod(ctx, store.RecordPaymentMethodParams{
		PaymentMethodID: oldID, CustomerID: customerID, AttachedAt: base,
	}); err != nil {
		t.Fatalf("record old method: %v", err)
	}

	stale, err := st.RecordPaymentMethod(ctx, store.RecordPaymentMethodParams{
		PaymentMethodID: newID, CustomerID: customerID, AttachedAt: base.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("record new method: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != oldID {
		t.Errorf("expected [%s] stale, got %+v", oldID, stale)
	}
}

func TestRecordPaymentMethod_OutOfOrderDeliveryKeepsNewest(t *testing.T) {
	// The replacement card's event lands first, the original card's second.
	// The late event must not make the original current again.
	pool, st := newTestStore(t)
	ctx := context.Background()

	customerID := "cus_pm_ooo_" + t.Name()
	cleanupPaymentMethods(t, pool, customerID)

	olderID := "pm_older_" + t.Name()
	newerID := "pm_newer_" + t.Name()
	base := time.Now().UTC().Add(-time.Hour)

	if _, err := st.RecordPaymentMethod(ctx, store.RecordPaymentMethodParams{
		PaymentMethodID: newerID, CustomerID: customerID, AttachedAt: base.Add(time.Minute),
	}); err != nil {
		t.Fatalf("record newer method: %v", err)
	}

	stale, err := st.RecordPaymentMethod(ctx, store.RecordPaymentMethodParams{
		PaymentMethodID: olderID, CustomerID: customerID, AttachedAt: base,
	})
	if err != nil {
		t.Fatalf("record older method: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != olderID {
		t.Errorf("the older method must be the stale one, got %+v", stale)
	}
}

func TestRecordPaymentMethod_ReplayRecomputesEmptyStaleSet(t *testing.T) {
	pool, st := newTestStore(t)
	ctx := context.Background()

	customerID := "cus_pm_replay_" + t.Name()
	cleanupPaymentMethods(t, pool, customerID)

	pmID := "pm_replay_" + t.Name()
	params := store.RecordPaymentMethodParams{
		PaymentMethodID: pmID,
		CustomerID:      customerID,
		AttachedAt:      time.Now().UTC(),
	}

	if _, err := st.RecordPaymentMethod(ctx, params); err != nil {
		t.Fatalf("first record: %v", err)
	}

	stale, err := st.RecordPaymentMethod(ctx, params)
	if err != nil {
		t.Fatalf("replay must succeed: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("replay must find nothing stale, got %+v", stale)
	}
}

// ─── DetachPaymentMethodLocally ───────────────────────────────────────────────

func TestDetachPaymentMethodLocally_SetsDetachedAt(t *testing.T) {
	pool, st := newTestStore(t)
	ctx := context.Background()

	customerID := "cus_detach_" + t.Name()
	cleanupPaymentMethods(t, pool, customerID)

	pmID := "pm_detach_" + t.Name()
	if _, err := st.RecordPaymentMethod(ctx, store.RecordPaymentMethodParams{
		PaymentMethodID: pmID, CustomerID: customerID, AttachedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("record method: %v", err)
	}

	if err := st.DetachPaymentMethodLocally(ctx, pmID); err != nil {
		t.Fatalf("DetachPaymentMethodLocally: %v", err)
	}

	current, err := st.Q().ListCurrentPaymentMethods(ctx, customerID)
	if err != nil {
		t.Fatalf("list current: %v", err)
	}
	if len(current) != 0 {
		t.Errorf("detached method must not be current, got %+v", current)
	}
}

func TestDetachPaymentMethodLocally_AlreadyDetachedIsNoError(t *testing.T) {
	_, st := newTestStore(t)

	// Unknown (or already detached) id — the UPDATE matches nothing, which
	// must read as "already done", not fail the reconciliation.
	if err := st.DetachPaymentMethodLocally(context.Background(), "pm_gone_"+t.Name()); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}
