// Package billing translates payment-provider webhook events into internal
// subscription state with an append-only audit trail. Providers deliver
// at-least-once and out of order; every handler here is safe to re-run with
// identical input and tolerates receiving a payment event before the
// corresponding created event.
package billing

import "time"

// EventKind is the closed set of webhook events this service reconciles.
// Dispatch happens over this enum, never over a raw provider string.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventSubscriptionCreated
	EventSubscriptionUpdated
	EventSubscriptionCancelled
	EventPaymentSucceeded
	EventPaymentFailed
	EventTrialEnding
)

func (k EventKind) String() string {
	switch k {
	case EventSubscriptionCreated:
		return "subscription_created"
	case EventSubscriptionUpdated:
		return "subscription_updated"
	case EventSubscriptionCancelled:
		return "subscription_cancelled"
	case EventPaymentSucceeded:
		return "payment_succeeded"
	case EventPaymentFailed:
		return "payment_failed"
	case EventTrialEnding:
		return "trial_ending"
	default:
		return "unknown"
	}
}

// Event is the canonical, provider-agnostic event consumed by the
// reconciliation service. Provider payloads are decoded and validated at the
// boundary; nothing downstream sees provider-specific shapes.
type Event struct {
	Kind            EventKind
	Provider        string
	ProviderEventID string
	ProviderType    string // raw provider event type string, kept for audit
	OccurredAt      time.Time
	Subscription    SubscriptionData
}

// SubscriptionData carries the subscription fields a provider payload may
// supply. Zero values mean "not present in this payload".
type SubscriptionData struct {
	ProviderSubscriptionID string
	CustomerID             string
	CustomerEmail          string
	CustomerName           string
	PlanID                 string
	PriceID                string
	ProviderStatus         string // raw provider status string, kept for audit
	Currency               string
	AmountMinor            int64
	Interval               string
	IntervalCount          int
	TrialStart             *time.Time
	TrialEnd               *time.Time
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	CancelAtPeriodEnd      bool
	CancelReason           string
	CancelledAt            *time.Time
	InvoiceID              string
	// FinalFailure marks a payment failure the provider will not retry
	// (past_due-equivalent status or an exhausted retry schedule).
	FinalFailure bool
	Metadata     map[string]string
}

// HandlerResult is the structured outcome of one reconciliation handler.
// Handlers never panic or propagate errors past this boundary.
type HandlerResult struct {
	Success        bool
	Message        string
	SubscriptionID uint
	Err            error
}

func success(subscriptionID uint, message string) HandlerResult {
	return HandlerResult{Success: true, Message: message, SubscriptionID: subscriptionID}
}

func failed(err error, message string) HandlerResult {
	return HandlerResult{Success: false, Message: message, Err: err}
}
