package billing

import (
	"strings"

	"github.com/tradewindhq/tradewind/app/models"
)

// stripeStatusMap translates Stripe subscription statuses to the internal
// lifecycle enum. Trialing subscriptions are entitled, so they count as
// active; past_due pauses entitlement until the provider recovers payment.
var stripeStatusMap = map[string]string{
	"active":             models.SubscriptionStatusActive,
	"trialing":           models.SubscriptionStatusActive,
	"past_due":           models.SubscriptionStatusPaused,
	"unpaid":             models.SubscriptionStatusPaused,
	"paused":             models.SubscriptionStatusPaused,
	"canceled":           models.SubscriptionStatusCancelled,
	"incomplete":         models.SubscriptionStatusPending,
	"incomplete_expired": models.SubscriptionStatusExpired,
}

var polarStatusMap = map[string]string{
	"active":             models.SubscriptionStatusActive,
	"trialing":           models.SubscriptionStatusActive,
	"past_due":           models.SubscriptionStatusPaused,
	"canceled":           models.SubscriptionStatusCancelled,
	"revoked":            models.SubscriptionStatusExpired,
	"incomplete":         models.SubscriptionStatusPending,
	"incomplete_expired": models.SubscriptionStatusExpired,
}

// MapProviderStatus maps a raw provider status string to the internal enum.
// Unknown strings map to pending: an ops follow-up beats dropping the event.
func MapProviderStatus(provider, raw string) string {
	status := strings.ToLower(strings.TrimSpace(raw))
	var table map[string]string
	switch provider {
	case models.PaymentProviderStripe:
		table = stripeStatusMap
	case models.PaymentProviderPolar:
		table = polarStatusMap
	}
	if mapped, ok := table[status]; ok {
		return mapped
	}
	return models.SubscriptionStatusPending
}

// NormalizeInterval clamps a provider billing interval to the known set.
func NormalizeInterval(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case models.BillingIntervalDay:
		return models.BillingIntervalDay
	case models.BillingIntervalWeek:
		return models.BillingIntervalWeek
	case models.BillingIntervalMonth:
		return models.BillingIntervalMonth
	case models.BillingIntervalYear:
		return models.BillingIntervalYear
	default:
		return models.BillingIntervalUnknown
	}
}
