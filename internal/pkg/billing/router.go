package billing

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/tradewindhq/tradewind/app/models"
	"github.com/tradewindhq/tradewind/internal/pkg/logging"
)

// Event-type allow-lists, one per provider. Only these strings ever reach a
// handler; anything else is logged and dropped. The fixed map is a security
// control: attacker-controlled event types can never select an arbitrary
// handler by name.
var stripeEventTypes = map[string]EventKind{
	"customer.subscription.created":        EventSubscriptionCreated,
	"customer.subscription.updated":        EventSubscriptionUpdated,
	"customer.subscription.deleted":        EventSubscriptionCancelled,
	"customer.subscription.trial_will_end": EventTrialEnding,
	"invoice.payment_succeeded":            EventPaymentSucceeded,
	"invoice.payment_failed":               EventPaymentFailed,
}

var polarEventTypes = map[string]EventKind{
	"subscription.created":  EventSubscriptionCreated,
	"subscription.updated":  EventSubscriptionUpdated,
	"subscription.active":   EventSubscriptionUpdated,
	"subscription.canceled": EventSubscriptionCancelled,
	"subscription.revoked":  EventSubscriptionCancelled,
	"order.paid":            EventPaymentSucceeded,
}

// ParseEventType resolves a provider event-type string against the allow-list.
// The second return is false for unlisted types.
func ParseEventType(provider, eventType string) (EventKind, bool) {
	var table map[string]EventKind
	switch provider {
	case models.PaymentProviderStripe:
		table = stripeEventTypes
	case models.PaymentProviderPolar:
		table = polarEventTypes
	}
	kind, ok := table[eventType]
	return kind, ok
}

// RouteEvent dispatches a validated canonical event to its handler. Unknown
// kinds are a logged no-op, not an error: the provider already got its 200
// and must not retry events we intentionally ignore. Handler failures are
// returned so the HTTP layer can answer with a retryable error.
func (s *Service) RouteEvent(ctx context.Context, ev Event) HandlerResult {
	switch ev.Kind {
	case EventSubscriptionCreated:
		return s.HandleSubscriptionCreated(ctx, ev)
	case EventSubscriptionUpdated:
		return s.HandleSubscriptionUpdated(ctx, ev)
	case EventSubscriptionCancelled:
		return s.HandleSubscriptionCancelled(ctx, ev)
	case EventPaymentSucceeded:
		return s.HandlePaymentSucceeded(ctx, ev)
	case EventPaymentFailed:
		return s.HandlePaymentFailed(ctx, ev)
	case EventTrialEnding:
		return s.HandleTrialEnding(ctx, ev)
	default:
		logging.LogWarn("dropping unrouted webhook event", logrus.Fields{
			"provider":   ev.Provider,
			"event_type": ev.ProviderType,
		})
		return success(0, "event ignored")
	}
}
