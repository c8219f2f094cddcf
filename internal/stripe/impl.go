package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/webhook"
)

// stripeClient is the concrete implementation of Client backed by the
// official stripe-go SDK. Construct it with NewClient.
type stripeClient struct {
	secretKey string
	timeout   time.Duration // per-call deadline layered onto the caller's ctx
}

// NewClient returns a Client backed by the Stripe SDK. secretKey is your
// STRIPE_SECRET_KEY env var. timeout bounds every provider call so a stalled
// Stripe request surfaces as an error instead of hanging the caller.
func NewClient(secretKey string, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &stripeClient{secretKey: secretKey, timeout: timeout}
}

func (c *stripeClient) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// CreateCheckoutSession starts a subscription-mode checkout. The idempotency
// key makes a retried HTTP request reuse the session Stripe already created
// instead of minting a second one.
func (c *stripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error) {
	stripe.Key = c.secretKey

	quantity := p.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(quantity),
			},
		},
	}
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}
	if len(p.Metadata) > 0 {
		params.Metadata = p.Metadata
	}
	params.SetIdempotencyKey(uuid.NewString())

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	params.Context = callCtx

	cs, err := checkoutsession.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	return CheckoutSession{ID: cs.ID, URL: cs.URL}, nil
}

// GetCheckoutSubscription retrieves the checkout session with its
// subscription expanded and maps it to the fields the lifecycle needs. The
// completed-checkout event only names the session, so this call is what turns
// "a checkout finished" into "this subscription, this customer, this plan".
func (c *stripeClient) GetCheckoutSubscription(ctx context.Context, sessionID string) (CheckoutSubscription, error) {
	stripe.Key = c.secretKey

	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("subscription")

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	params.Context = callCtx

	cs, err := checkoutsession.Get(sessionID, params)
	if err != nil {
		return CheckoutSubscription{}, fmt.Errorf("stripe: get checkout session %s: %w", sessionID, err)
	}

	if cs.Subscription == nil {
		return CheckoutSubscription{}, fmt.Errorf("stripe: checkout session %s has no subscription", sessionID)
	}

	out := CheckoutSubscription{
		SubscriptionID: cs.Subscription.ID,
		Metadata:       cs.Metadata,
	}

	if cs.Customer != nil {
		out.CustomerID = cs.Customer.ID
	}
	if out.CustomerID == "" && cs.Subscription.Customer != nil {
		out.CustomerID = cs.Subscription.Customer.ID
	}
	if cs.CustomerDetails != nil {
		out.CustomerEmail = cs.CustomerDetails.Email
	}

	if cs.Subscription.Items != nil && len(cs.Subscription.Items.Data) > 0 {
		if price := cs.Subscription.Items.Data[0].Price; price != nil {
			out.PlanID = price.ID
		}
	}
	if out.PlanID == "" {
		return CheckoutSubscription{}, fmt.Errorf("stripe: subscription %s has no priced item", out.SubscriptionID)
	}

	return out, nil
}

// CreatePortalSession returns a billing-portal URL for the customer. The
// portal is where a customer swaps their stored payment method; the resulting
// payment_method.attached event comes back through the webhook path.
func (c *stripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	stripe.Key = c.secretKey

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	params.Context = callCtx

	ps, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create portal session for %s: %w", customerID, err)
	}

	return ps.URL, nil
}

// DetachPaymentMethod detaches the method from its customer on the provider
// side. Detaching an already-detached method returns a provider error; the
// reconciler treats resource_missing as success via IsNotFound.
func (c *stripeClient) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	stripe.Key = c.secretKey

	params := &stripe.PaymentMethodDetachParams{}

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()
	params.Context = callCtx

	if _, err := paymentmethod.Detach(paymentMethodID, params); err != nil {
		return fmt.Errorf("stripe: detach payment method %s: %w", paymentMethodID, err)
	}
	return nil
}

// VerifyWebhook validates the Stripe-Signature header and returns the parsed
// envelope. The SDK enforces the default 300-second tolerance window, so
// replayed old payloads fail here too.
func (c *stripeClient) VerifyWebhook(payload []byte, sigHeader string, secret string) (RawEvent, error) {
	if _, err := webhook.ConstructEvent(payload, sigHeader, secret); err != nil {
		return RawEvent{}, fmt.Errorf("stripe: webhook verification failed: %w", err)
	}
	// The envelope is parsed from the exact bytes the signature covered.
	return ParseEvent(payload)
}

// ─── ERROR CLASSIFICATION ────────────────────────────────────────────────────

// IsNotFound reports whether err is a Stripe resource_missing error — the
// referenced object does not exist on the provider side. Handlers treat this
// as an unresolvable reference: logged and acknowledged, never retried.
func IsNotFound(err error) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing
}

// HTTPStatusFor maps a provider error to the status a synchronous endpoint
// should return. Caller mistakes (bad price id, malformed params, declined
// card) are 400s; everything else is a 502 since the provider, not the
// caller, failed.
func HTTPStatusFor(err error) int {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeInvalidRequest, stripe.ErrorTypeCard:
			return http.StatusBadRequest
		}
	}
	return http.StatusBadGateway
}
