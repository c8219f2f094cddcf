package stripe

import (
	"encoding/json"
	"testing"
	"time"
)

// ─── ParseEvent ───────────────────────────────────────────────────────────────

func TestParseEvent_ValidEnvelope(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_test"}}
	}`)

	raw, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw.ID != "evt_1" {
		t.Errorf("id: got %q", raw.ID)
	}
	if raw.Type != "checkout.session.completed" {
		t.Errorf("type: got %q", raw.Type)
	}
	if raw.PrevRaw != nil {
		t.Error("previous_attributes should be nil when absent")
	}
}

func TestParseEvent_MissingIDOrType(t *testing.T) {
	for name, payload := range map[string]string{
		"missing id":   `{"type": "checkout.session.completed", "data": {"object": {}}}`,
		"missing type": `{"id": "evt_1", "data": {"object": {}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseEvent([]byte(payload)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseEvent_MalformedJSON(t *testing.T) {
	if _, err := ParseEvent([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed json")
	}
}

// ─── Normalize ────────────────────────────────────────────────────────────────

func TestNormalize_CheckoutCompleted(t *testing.T) {
	raw := RawEvent{
		ID:      "evt_1",
		Type:    "checkout.session.completed",
		DataRaw: json.RawMessage(`{"id": "sess_1"}`),
	}

	ev, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cc, ok := ev.(CheckoutCompleted)
	if !ok {
		t.Fatalf("expected CheckoutCompleted, got %T", ev)
	}
	if cc.SessionID != "sess_1" {
		t.Errorf("session id: got %q", cc.SessionID)
	}
	if cc.EventID() != "evt_1" {
		t.Errorf("event id: got %q", cc.EventID())
	}
}

func TestNormalize_CheckoutCompleted_EmptySessionID(t *testing.T) {
	raw := RawEvent{
		ID:      "evt_1",
		Type:    "checkout.session.completed",
		DataRaw: json.RawMessage(`{"id": ""}`),
	}
	if _, err := Normalize(raw); err == nil {
		t.Error("expected error for empty session id")
	}
}

func TestNormalize_SubscriptionUpdated_PlanChange(t *testing.T) {
	raw := RawEvent{
		ID:      "evt_2",
		Type:    "customer.subscription.updated",
		DataRaw: json.RawMessage(`{"id": "sub_1", "plan": {"id": "plan_pro"}}`),
		PrevRaw: json.RawMessage(`{"plan": {"id": "plan_basic"}}`),
	}

	ev, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	su, ok := ev.(SubscriptionUpdated)
	if !ok {
		t.Fatalf("expected SubscriptionUpdated, got %T", ev)
	}
	if su.SubscriptionID != "sub_1" {
		t.Errorf("subscription id: got %q", su.SubscriptionID)
	}
	if su.PlanID != "plan_pro" {
		t.Errorf("plan id: got %q", su.PlanID)
	}
	if su.PreviousPlanID == nil || *su.PreviousPlanID != "plan_basic" {
		t.Errorf("previous plan id: got %v", su.PreviousPlanID)
	}
}

func TestNormalize_SubscriptionUpdated_NoPlanInPreviousAttributes(t *testing.T) {
	// An update where some unrelated field changed: previous_attributes is
	// present but carries no plan. The handler must be able to tell this
	// apart from a plan change.
	raw := RawEvent{
		ID:      "evt_3",
		Type:    "customer.subscription.updated",
		DataRaw: json.RawMessage(`{"id": "sub_1", "plan": {"id": "plan_pro"}}`),
		PrevRaw: json.RawMessage(`{"status": "trialing"}`),
	}

	ev, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	su := ev.(SubscriptionUpdated)
	if su.PreviousPlanID != nil {
		t.Errorf("previous plan id should be nil, got %q", *su.PreviousPlanID)
	}
}

func TestNormalize_SubscriptionUpdated_AbsentPreviousAttributes(t *testing.T) {
	raw := RawEvent{
		ID:      "evt_4",
		Type:    "customer.subscription.updated",
		DataRaw: json.RawMessage(`{"id": "sub_1", "plan": {"id": "plan_pro"}}`),
	}

	ev, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if su := ev.(SubscriptionUpdated); su.PreviousPlanID != nil {
		t.Errorf("previous plan id should be nil, got %q", *su.PreviousPlanID)
	}
}

func TestNormalize_SubscriptionUpdated_EmptySubscriptionID(t *testing.T) {
	raw := RawEvent{
		ID:      "evt_5",
		Type:    "customer.subscription.updated",
		DataRaw: json.RawMessage(`{"id": "", "plan": {"id": "plan_pro"}}`),
	}
	if _, err := Normalize(raw); err == nil {
		t.Error("expected error for empty subscription id")
	}
}

func TestNormalize_SubscriptionDeleted(t *testing.T) {
	raw := RawEvent{
		ID:      "evt_6",
		Type:    "customer.subscription.deleted",
		DataRaw: json.RawMessage(`{"id": "sub_1"}`),
	}

	ev, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sd, ok := ev.(SubscriptionDeleted)
	if !ok {
		t.Fatalf("expected SubscriptionDeleted, got %T", ev)
	}
	if sd.SubscriptionID != "sub_1" {
		t.Errorf("subscription id: got %q", sd.SubscriptionID)
	}
}

func TestNormalize_PaymentMethodAttached(t *testing.T) {
	raw := RawEvent{
		ID:      "evt_7",
		Type:    "payment_method.attached",
		DataRaw: json.RawMessage(`{"id": "pm_1", "customer": "cus_1", "created": 1700000000}`),
	}

	ev, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pm, ok := ev.(PaymentMethodAttached)
	if !ok {
		t.Fatalf("expected PaymentMethodAttached, got %T", ev)
	}
	if pm.PaymentMethodID != "pm_1" {
		t.Errorf("payment method id: got %q", pm.PaymentMethodID)
	}
	if pm.CustomerID != "cus_1" {
		t.Errorf("customer id: got %q", pm.CustomerID)
	}
	if want := time.Unix(1700000000, 0).UTC(); !pm.AttachedAt.Equal(want) {
		t.Errorf("attached at: got %v, want %v", pm.AttachedAt, want)
	}
}

func TestNormalize_PaymentMethodAttached_MissingCustomer(t *testing.T) {
	raw := RawEvent{
		ID:      "evt_8",
		Type:    "payment_method.attached",
		DataRaw: json.RawMessage(`{"id": "pm_1", "created": 1700000000}`),
	}
	if _, err := Normalize(raw); err == nil {
		t.Error("expected error for missing customer")
	}
}

func TestNormalize_UnknownTypeIsIgnoredNotError(t *testing.T) {
	raw := RawEvent{
		ID:      "evt_9",
		Type:    "invoice.finalized",
		DataRaw: json.RawMessage(`{"id": "in_1"}`),
	}

	ev, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unknown types must not fail: %v", err)
	}
	ig, ok := ev.(Ignored)
	if !ok {
		t.Fatalf("expected Ignored, got %T", ev)
	}
	if ig.Type != "invoice.finalized" {
		t.Errorf("type: got %q", ig.Type)
	}
}

func TestNormalize_KnownTypeWithGarbagePayloadFails(t *testing.T) {
	raw := RawEvent{
		ID:      "evt_10",
		Type:    "checkout.session.completed",
		DataRaw: json.RawMessage(`"not an object"`),
	}
	if _, err := Normalize(raw); err == nil {
		t.Error("expected error for invalid payload on known type")
	}
}
