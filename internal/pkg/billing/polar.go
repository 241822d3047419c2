package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tradewindhq/tradewind/app/models"
)

// WebhookEnvelope is the minimal shape every inbound webhook body must have.
// The shape check is cheap and runs before any signature work.
type WebhookEnvelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var (
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// ParseEnvelope decodes and shape-checks a webhook body: `type` must be a
// non-empty string and `data` a JSON object. `id` is optional for event
// families that identify deliveries via headers instead.
func ParseEnvelope(payload []byte) (*WebhookEnvelope, error) {
	var env WebhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, "body is not valid JSON")
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, "missing event type")
	}
	if len(env.Data) == 0 || env.Data[0] != '{' {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, "missing event data object")
	}
	return &env, nil
}

type polarCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type polarSubscription struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	Amount             int64             `json:"amount"`
	Currency           string            `json:"currency"`
	RecurringInterval  string            `json:"recurring_interval"`
	CurrentPeriodStart *time.Time        `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time        `json:"current_period_end"`
	TrialStart         *time.Time        `json:"trial_start"`
	TrialEnd           *time.Time        `json:"trial_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         *time.Time        `json:"canceled_at"`
	CustomerID         string            `json:"customer_id"`
	Customer           *polarCustomer    `json:"customer"`
	ProductID          string            `json:"product_id"`
	PriceID            string            `json:"price_id"`
	Metadata           map[string]string `json:"metadata"`
}

type polarOrder struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	SubscriptionID string            `json:"subscription_id"`
	ProductID      string            `json:"product_id"`
	CustomerID     string            `json:"customer_id"`
	Customer       *polarCustomer    `json:"customer"`
	BillingReason  string            `json:"billing_reason"`
	Metadata       map[string]string `json:"metadata"`
}

// DecodePolarEvent converts an allow-listed Polar payload into the canonical
// event. The caller has already verified the signature and the allow-list.
func DecodePolarEvent(env *WebhookEnvelope, providerEventID string) (Event, error) {
	kind, ok := ParseEventType(models.PaymentProviderPolar, env.Type)
	if !ok {
		return Event{}, fmt.Errorf("%w: unlisted event type %q", ErrInvalidPayload, env.Type)
	}

	ev := Event{
		Kind:            kind,
		Provider:        models.PaymentProviderPolar,
		ProviderEventID: providerEventID,
		ProviderType:    env.Type,
		OccurredAt:      time.Now(),
	}
	if ev.ProviderEventID == "" {
		ev.ProviderEventID = env.ID
	}

	if kind == EventPaymentSucceeded {
		var order polarOrder
		if err := json.Unmarshal(env.Data, &order); err != nil {
			return Event{}, fmt.Errorf("%w: malformed order payload", ErrInvalidPayload)
		}
		if order.SubscriptionID == "" {
			return Event{}, fmt.Errorf("%w: order without subscription id", ErrInvalidPayload)
		}
		ev.Subscription = SubscriptionData{
			ProviderSubscriptionID: order.SubscriptionID,
			CustomerID:             order.CustomerID,
			PlanID:                 order.ProductID,
			Currency:               order.Currency,
			AmountMinor:            order.Amount,
			InvoiceID:              order.ID,
			Metadata:               order.Metadata,
		}
		applyPolarCustomer(&ev.Subscription, order.Customer)
		return ev, nil
	}

	var sub polarSubscription
	if err := json.Unmarshal(env.Data, &sub); err != nil {
		return Event{}, fmt.Errorf("%w: malformed subscription payload", ErrInvalidPayload)
	}
	if sub.ID == "" {
		return Event{}, fmt.Errorf("%w: subscription without id", ErrInvalidPayload)
	}

	ev.Subscription = SubscriptionData{
		ProviderSubscriptionID: sub.ID,
		CustomerID:             sub.CustomerID,
		PlanID:                 sub.ProductID,
		PriceID:                sub.PriceID,
		ProviderStatus:         sub.Status,
		Currency:               sub.Currency,
		AmountMinor:            sub.Amount,
		Interval:               sub.RecurringInterval,
		IntervalCount:          1,
		TrialStart:             sub.TrialStart,
		TrialEnd:               sub.TrialEnd,
		PeriodStart:            sub.CurrentPeriodStart,
		PeriodEnd:              sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
		CancelledAt:            sub.CanceledAt,
		FinalFailure:           sub.Metadata["final_failure"] == "true",
		Metadata:               sub.Metadata,
	}
	applyPolarCustomer(&ev.Subscription, sub.Customer)
	return ev, nil
}

func applyPolarCustomer(data *SubscriptionData, c *polarCustomer) {
	if c == nil {
		return
	}
	if data.CustomerID == "" {
		data.CustomerID = c.ID
	}
	data.CustomerEmail = c.Email
	data.CustomerName = c.Name
}
