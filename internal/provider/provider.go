// Package provider is the boundary to the external payment provider. All
// business code talks to the Client interface; the Stripe implementation
// lives next to it. Provider calls are fallible remote calls with their
// own timeout behavior and no local retry layer.
package provider

import (
	"context"
	"time"
)

// Subscription is the provider's view of one subscription.
type Subscription struct {
	ID                 string
	Status             string // Provider status vocabulary (active, trialing, past_due, canceled, ...).
	PriceID            string
	CustomerID         string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CanceledAt         time.Time
	CancelAtPeriodEnd  bool
}

// Customer is the provider's view of one customer.
type Customer struct {
	ID    string
	Email string
}

// CheckoutParams describes a checkout session to create.
type CheckoutParams struct {
	PriceID           string
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	Metadata          map[string]string
}

// Client is the set of provider operations the backend consumes.
type Client interface {
	// CreateCheckoutSession starts a subscription checkout and returns
	// the redirect URL.
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error)
	// CreatePortalSession opens the provider's self-service billing
	// portal for a customer and returns the redirect URL.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	// GetSubscription retrieves the current provider state of a
	// subscription.
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	// GetCustomer retrieves a customer record.
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	// CancelAtPeriodEnd schedules a cancellation and returns the end of
	// the current billing period.
	CancelAtPeriodEnd(ctx context.Context, id string) (time.Time, error)
	// SetTrialEnd moves a subscription's trial end. A zero time ends the
	// trial immediately.
	SetTrialEnd(ctx context.Context, id string, end time.Time) error
}

// WebhookEvent is a provider notification after signature verification.
type WebhookEvent struct {
	Type    string
	Created time.Time

	// Checkout is set for checkout completion events.
	Checkout *CheckoutEvent
	// SubscriptionID is set for subscription update/delete events.
	SubscriptionID string
}

// CheckoutEvent carries the fields consumed from a completed checkout.
type CheckoutEvent struct {
	ClientReferenceID string
	CustomerID        string
	SubscriptionID    string
	Metadata          map[string]string
}

// Webhook event types the backend reacts to.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// WebhookVerifier checks a webhook payload against its signature header
// and decodes it into a WebhookEvent.
type WebhookVerifier func(payload []byte, sigHeader string) (WebhookEvent, error)
