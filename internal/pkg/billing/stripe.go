package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tradewindhq/tradewind/app/models"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerifyStripeEvent checks the Stripe-Signature header against the raw body
// and returns the verified event. API version drift between the Stripe
// account and the SDK pin is tolerated.
func VerifyStripeEvent(payload []byte, signatureHeader, secret string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %s", ErrInvalidSignature, "stripe signature verification failed")
	}
	return event, nil
}

// DecodeStripeEvent converts a verified Stripe event into the canonical
// event. The second return is false for event types outside the allow-list.
func DecodeStripeEvent(event stripe.Event) (Event, bool, error) {
	eventType := string(event.Type)
	kind, ok := ParseEventType(models.PaymentProviderStripe, eventType)
	if !ok {
		return Event{Provider: models.PaymentProviderStripe, ProviderType: eventType}, false, nil
	}

	ev := Event{
		Kind:            kind,
		Provider:        models.PaymentProviderStripe,
		ProviderEventID: event.ID,
		ProviderType:    eventType,
		OccurredAt:      time.Unix(event.Created, 0),
	}

	var err error
	switch kind {
	case EventPaymentSucceeded, EventPaymentFailed:
		ev.Subscription, err = stripeInvoiceData(event.Data.Raw, kind)
	default:
		ev.Subscription, err = stripeSubscriptionData(event.Data.Raw)
	}
	if err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}

func stripeSubscriptionData(raw json.RawMessage) (SubscriptionData, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return SubscriptionData{}, fmt.Errorf("%w: malformed subscription payload", ErrInvalidPayload)
	}
	if sub.ID == "" {
		return SubscriptionData{}, fmt.Errorf("%w: subscription without id", ErrInvalidPayload)
	}

	data := SubscriptionData{
		ProviderSubscriptionID: sub.ID,
		ProviderStatus:         string(sub.Status),
		TrialStart:             unixTime(sub.TrialStart),
		TrialEnd:               unixTime(sub.TrialEnd),
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
		CancelledAt:            unixTime(sub.CanceledAt),
		Metadata:               sub.Metadata,
	}
	if sub.Customer != nil {
		data.CustomerID = sub.Customer.ID
		data.CustomerEmail = sub.Customer.Email
		data.CustomerName = sub.Customer.Name
	}
	if sub.CancellationDetails != nil {
		data.CancelReason = string(sub.CancellationDetails.Reason)
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		data.PeriodStart = unixTime(item.CurrentPeriodStart)
		data.PeriodEnd = unixTime(item.CurrentPeriodEnd)
		if item.Price != nil {
			data.PriceID = item.Price.ID
			data.Currency = string(item.Price.Currency)
			data.AmountMinor = item.Price.UnitAmount
			if item.Price.Recurring != nil {
				data.Interval = string(item.Price.Recurring.Interval)
				data.IntervalCount = int(item.Price.Recurring.IntervalCount)
			}
			if item.Price.Product != nil {
				data.PlanID = item.Price.Product.ID
			}
		}
	}
	return data, nil
}

// stripeInvoiceData pulls the subscription reference out of an invoice
// payload. Newer Stripe API versions nest it under
// parent.subscription_details, older payloads expose a flat "subscription"
// field, so both locations are checked against the raw document.
func stripeInvoiceData(raw json.RawMessage, kind EventKind) (SubscriptionData, error) {
	var invoiceData map[string]interface{}
	if err := json.Unmarshal(raw, &invoiceData); err != nil {
		return SubscriptionData{}, fmt.Errorf("%w: malformed invoice payload", ErrInvalidPayload)
	}

	subscriptionID := ""
	if parent, ok := invoiceData["parent"].(map[string]interface{}); ok {
		if details, ok := parent["subscription_details"].(map[string]interface{}); ok {
			if s, ok := details["subscription"].(string); ok {
				subscriptionID = s
			}
		}
	}
	if subscriptionID == "" {
		if s, ok := invoiceData["subscription"].(string); ok {
			subscriptionID = s
		}
	}
	if subscriptionID == "" {
		return SubscriptionData{}, fmt.Errorf("%w: invoice without subscription id", ErrInvalidPayload)
	}

	data := SubscriptionData{
		ProviderSubscriptionID: subscriptionID,
	}
	if id, ok := invoiceData["id"].(string); ok {
		data.InvoiceID = id
	}
	if c, ok := invoiceData["currency"].(string); ok {
		data.Currency = c
	}
	if customer, ok := invoiceData["customer"].(string); ok {
		data.CustomerID = customer
	}
	if email, ok := invoiceData["customer_email"].(string); ok {
		data.CustomerEmail = email
	}
	if name, ok := invoiceData["customer_name"].(string); ok {
		data.CustomerName = name
	}

	amountKey := "amount_paid"
	if kind == EventPaymentFailed {
		amountKey = "amount_due"
	}
	if amount, ok := invoiceData[amountKey].(float64); ok {
		data.AmountMinor = int64(amount)
	}

	if kind == EventPaymentFailed {
		// Stripe schedules the next retry via next_payment_attempt; when it
		// is absent or zero the dunning cycle is over and the failure is
		// final.
		next, ok := invoiceData["next_payment_attempt"].(float64)
		data.FinalFailure = !ok || next == 0
	}
	return data, nil
}

func unixTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0)
	return &t
}
