package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeClient implements Client backed by the Stripe API.
type StripeClient struct {
	api *client.API
}

// NewStripeClient constructs a StripeClient with the given secret key.
func NewStripeClient(secretKey string) *StripeClient {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeClient{api: api}
}

// CreateCheckoutSession starts a subscription checkout session.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error) {
	params := &stripe.CheckoutSessionParams{
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(p.PriceID),
			Quantity: stripe.Int64(1),
		}},
		Mode:                stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:          stripe.String(p.SuccessURL),
		CancelURL:           stripe.String(p.CancelURL),
		ClientReferenceID:   stripe.String(p.ClientReferenceID),
		AllowPromotionCodes: stripe.Bool(true),
		AutomaticTax:        &stripe.CheckoutSessionAutomaticTaxParams{Enabled: stripe.Bool(true)},
		TaxIDCollection:     &stripe.CheckoutSessionTaxIDCollectionParams{Enabled: stripe.Bool(true)},
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	session, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return session.URL, nil
}

// CreatePortalSession opens the billing portal for a customer.
func (s *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	session, err := s.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create portal session: %w", err)
	}
	return session.URL, nil
}

// GetSubscription retrieves a subscription.
func (s *StripeClient) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := s.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get subscription %s: %w", id, err)
	}
	return convertSubscription(sub), nil
}

// GetCustomer retrieves a customer.
func (s *StripeClient) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	cust, err := s.api.Customers.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get customer %s: %w", id, err)
	}
	return &Customer{ID: cust.ID, Email: cust.Email}, nil
}

// CancelAtPeriodEnd schedules a cancellation at the end of the current
// billing period and returns that period end.
func (s *StripeClient) CancelAtPeriodEnd(ctx context.Context, id string) (time.Time, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx

	sub, err := s.api.Subscriptions.Update(id, params)
	if err != nil {
		return time.Time{}, fmt.Errorf("stripe: cancel subscription %s: %w", id, err)
	}
	return time.Unix(sub.CurrentPeriodEnd, 0), nil
}

// SetTrialEnd moves a subscription's trial end without proration. A zero
// time ends the trial now.
func (s *StripeClient) SetTrialEnd(ctx context.Context, id string, end time.Time) error {
	params := &stripe.SubscriptionParams{
		ProrationBehavior: stripe.String("none"),
	}
	if end.IsZero() {
		params.TrialEndNow = stripe.Bool(true)
	} else {
		params.TrialEnd = stripe.Int64(end.Unix())
	}
	params.Context = ctx

	if _, err := s.api.Subscriptions.Update(id, params); err != nil {
		return fmt.Errorf("stripe: set trial end %s: %w", id, err)
	}
	return nil
}

// convertSubscription maps the Stripe subscription to the local DTO.
func convertSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if sub.CanceledAt != 0 {
		out.CanceledAt = time.Unix(sub.CanceledAt, 0)
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PriceID = sub.Items.Data[0].Price.ID
	}
	return out
}

// NewStripeWebhookVerifier returns a WebhookVerifier checking payloads
// against the endpoint secret.
func NewStripeWebhookVerifier(endpointSecret string) WebhookVerifier {
	return func(payload []byte, sigHeader string) (WebhookEvent, error) {
		event, err := webhook.ConstructEvent(payload, sigHeader, endpointSecret)
		if err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: verify webhook: %w", err)
		}
		out := WebhookEvent{
			Type:    string(event.Type),
			Created: time.Unix(event.Created, 0),
		}
		switch out.Type {
		case EventCheckoutCompleted:
			var session stripe.CheckoutSession
			if errUnmarshal := json.Unmarshal(event.Data.Raw, &session); errUnmarshal != nil {
				return WebhookEvent{}, fmt.Errorf("stripe: decode checkout session: %w", errUnmarshal)
			}
			checkout := &CheckoutEvent{
				ClientReferenceID: session.ClientReferenceID,
				Metadata:          session.Metadata,
			}
			if session.Customer != nil {
				checkout.CustomerID = session.Customer.ID
			}
			if session.Subscription != nil {
				checkout.SubscriptionID = session.Subscription.ID
			}
			out.Checkout = checkout
		case EventSubscriptionUpdated, EventSubscriptionDeleted:
			var sub stripe.Subscription
			if errUnmarshal := json.Unmarshal(event.Data.Raw, &sub); errUnmarshal != nil {
				return WebhookEvent{}, fmt.Errorf("stripe: decode subscription: %w", errUnmarshal)
			}
			out.SubscriptionID = sub.ID
		}
		return out, nil
	}
}
