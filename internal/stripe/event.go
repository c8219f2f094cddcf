package stripe

import (
	"encoding/json"
	"fmt"
	"time"
)

// ─── ENVELOPE ─────────────────────────────────────────────────────────────────

// RawEvent is the parsed webhook envelope: event id, type tag, the raw
// data.object JSON, and the raw previous_attributes JSON (present only on
// update events). It carries no interpretation — Normalize does that.
type RawEvent struct {
	ID      string
	Type    string
	DataRaw json.RawMessage
	// PrevRaw is the previous_attributes object, or nil when the event
	// carried none. Nil and empty are distinct: nil means "field absent".
	PrevRaw json.RawMessage
}

// eventEnvelope matches the provider's wire shape.
type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object             json.RawMessage `json:"object"`
		PreviousAttributes json.RawMessage `json:"previous_attributes"`
	} `json:"data"`
}

// ParseEvent parses a raw event payload into the envelope. Used by the
// redelivery worker on payloads that were already signature-verified when
// first received; the live webhook path goes through VerifyWebhook instead.
func ParseEvent(payload []byte) (RawEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return RawEvent{}, fmt.Errorf("stripe: parse event envelope: %w", err)
	}
	if env.ID == "" || env.Type == "" {
		return RawEvent{}, fmt.Errorf("stripe: event envelope missing id or type")
	}
	return RawEvent{
		ID:      env.ID,
		Type:    env.Type,
		DataRaw: env.Data.Object,
		PrevRaw: env.Data.PreviousAttributes,
	}, nil
}

// ─── NORMALIZED EVENTS ────────────────────────────────────────────────────────

// Event is the closed set of normalized webhook events. Each variant carries
// exactly the fields its handler needs. The billing dispatcher type-switches
// over this set exhaustively, so adding a variant here forces a routing
// decision there rather than falling into a silent default.
type Event interface {
	// EventID returns the provider's event id, used for dedup bookkeeping.
	EventID() string

	isEvent()
}

// CheckoutCompleted signals a finished checkout session. The payload
// identifies the session, not the subscription — the lifecycle handler
// resolves the indirection with a provider call.
type CheckoutCompleted struct {
	ID        string
	SessionID string
}

// SubscriptionUpdated signals a change to a subscription object. Only plan
// changes matter here: PreviousPlanID is nil when the event's
// previous_attributes carried no plan, which is how "some unrelated field
// changed" is told apart from "plan changed".
type SubscriptionUpdated struct {
	ID             string
	SubscriptionID string
	PlanID         string
	PreviousPlanID *string
}

// SubscriptionDeleted signals a cancellation on the provider side.
type SubscriptionDeleted struct {
	ID             string
	SubscriptionID string
}

// PaymentMethodAttached signals a new stored instrument for a customer.
type PaymentMethodAttached struct {
	ID              string
	PaymentMethodID string
	CustomerID      string
	AttachedAt      time.Time
}

// Ignored is produced for every event type this service does not act on,
// including types the provider introduces after this code was written.
// Dispatching it is a logged no-op.
type Ignored struct {
	ID   string
	Type string
}

func (e CheckoutCompleted) EventID() string     { return e.ID }
func (e SubscriptionUpdated) EventID() string   { return e.ID }
func (e SubscriptionDeleted) EventID() string   { return e.ID }
func (e PaymentMethodAttached) EventID() string { return e.ID }
func (e Ignored) EventID() string               { return e.ID }

func (CheckoutCompleted) isEvent()     {}
func (SubscriptionUpdated) isEvent()   {}
func (SubscriptionDeleted) isEvent()   {}
func (PaymentMethodAttached) isEvent() {}
func (Ignored) isEvent()               {}

// ─── NORMALIZATION ────────────────────────────────────────────────────────────

// Normalize converts a verified envelope into a typed Event. Unknown event
// types normalize to Ignored — the provider adds event kinds at any time and
// an unrecognized type must not fail the delivery. A recognized type with a
// structurally invalid payload does fail, since acting on it would corrupt
// local state.
func Normalize(raw RawEvent) (Event, error) {
	switch raw.Type {
	case "checkout.session.completed":
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw.DataRaw, &obj); err != nil {
			return nil, fmt.Errorf("stripe: normalize %s: %w", raw.Type, err)
		}
		if obj.ID == "" {
			return nil, fmt.Errorf("stripe: event %s: checkout session id is empty", raw.ID)
		}
		return CheckoutCompleted{ID: raw.ID, SessionID: obj.ID}, nil

	case "customer.subscription.updated":
		var obj struct {
			ID   string `json:"id"`
			Plan *struct {
				ID string `json:"id"`
			} `json:"plan"`
		}
		if err := json.Unmarshal(raw.DataRaw, &obj); err != nil {
			return nil, fmt.Errorf("stripe: normalize %s: %w", raw.Type, err)
		}
		if obj.ID == "" {
			return nil, fmt.Errorf("stripe: event %s: subscription id is empty", raw.ID)
		}

		ev := SubscriptionUpdated{ID: raw.ID, SubscriptionID: obj.ID}
		if obj.Plan != nil {
			ev.PlanID = obj.Plan.ID
		}
		ev.PreviousPlanID = previousPlanID(raw.PrevRaw)
		return ev, nil

	case "customer.subscription.deleted":
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw.DataRaw, &obj); err != nil {
			return nil, fmt.Errorf("stripe: normalize %s: %w", raw.Type, err)
		}
		if obj.ID == "" {
			return nil, fmt.Errorf("stripe: event %s: subscription id is empty", raw.ID)
		}
		return SubscriptionDeleted{ID: raw.ID, SubscriptionID: obj.ID}, nil

	case "payment_method.attached":
		var obj struct {
			ID       string `json:"id"`
			Customer string `json:"customer"`
			Created  int64  `json:"created"`
		}
		if err := json.Unmarshal(raw.DataRaw, &obj); err != nil {
			return nil, fmt.Errorf("stripe: normalize %s: %w", raw.Type, err)
		}
		if obj.ID == "" || obj.Customer == "" {
			return nil, fmt.Errorf("stripe: event %s: payment method id or customer is empty", raw.ID)
		}
		return PaymentMethodAttached{
			ID:              raw.ID,
			PaymentMethodID: obj.ID,
			CustomerID:      obj.Customer,
			AttachedAt:      time.Unix(obj.Created, 0).UTC(),
		}, nil

	default:
		return Ignored{ID: raw.ID, Type: raw.Type}, nil
	}
}

// previousPlanID extracts previous_attributes.plan.id as an explicit
// optional. It is total over its input: absent previous_attributes, absent
// plan, and empty plan id all yield nil.
func previousPlanID(prevRaw json.RawMessage) *string {
	if len(prevRaw) == 0 {
		return nil
	}
	var prev struct {
		Plan *struct {
			ID string `json:"id"`
		} `json:"plan"`
	}
	// previous_attributes that fail to parse are treated as absent: the
	// guard then no-ops, which is the safe direction for a plan change.
	if err := json.Unmarshal(prevRaw, &prev); err != nil {
		return nil
	}
	if prev.Plan == nil || prev.Plan.ID == "" {
		return nil
	}
	id := prev.Plan.ID
	return &id
}
