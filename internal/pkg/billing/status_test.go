package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tradewindhq/tradewind/app/models"
)

func TestMapProviderStatus(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		raw      string
		want     string
	}{
		{"stripe active", models.PaymentProviderStripe, "active", models.SubscriptionStatusActive},
		{"stripe trialing counts as active", models.PaymentProviderStripe, "trialing", models.SubscriptionStatusActive},
		{"stripe past_due pauses", models.PaymentProviderStripe, "past_due", models.SubscriptionStatusPaused},
		{"stripe unpaid pauses", models.PaymentProviderStripe, "unpaid", models.SubscriptionStatusPaused},
		{"stripe canceled", models.PaymentProviderStripe, "canceled", models.SubscriptionStatusCancelled},
		{"stripe incomplete", models.PaymentProviderStripe, "incomplete", models.SubscriptionStatusPending},
		{"stripe incomplete_expired", models.PaymentProviderStripe, "incomplete_expired", models.SubscriptionStatusExpired},
		{"stripe mixed case", models.PaymentProviderStripe, "  Active ", models.SubscriptionStatusActive},
		{"polar active", models.PaymentProviderPolar, "active", models.SubscriptionStatusActive},
		{"polar canceled", models.PaymentProviderPolar, "canceled", models.SubscriptionStatusCancelled},
		{"polar revoked expires", models.PaymentProviderPolar, "revoked", models.SubscriptionStatusExpired},
		{"unknown status falls back to pending", models.PaymentProviderStripe, "frobnicated", models.SubscriptionStatusPending},
		{"empty status falls back to pending", models.PaymentProviderPolar, "", models.SubscriptionStatusPending},
		{"unknown provider falls back to pending", "paypal", "active", models.SubscriptionStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapProviderStatus(tt.provider, tt.raw))
		})
	}
}

func TestNormalizeInterval(t *testing.T) {
	assert.Equal(t, models.BillingIntervalMonth, NormalizeInterval("month"))
	assert.Equal(t, models.BillingIntervalYear, NormalizeInterval(" Year "))
	assert.Equal(t, models.BillingIntervalUnknown, NormalizeInterval("fortnight"))
	assert.Equal(t, models.BillingIntervalUnknown, NormalizeInterval(""))
}
