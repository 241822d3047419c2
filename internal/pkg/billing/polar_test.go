package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradewindhq/tradewind/app/models"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"type":"subscription.created","data":{"id":"sub_1"}}`, false},
		{"valid without id", `{"type":"order.paid","data":{}}`, false},
		{"not json", `{"type":`, true},
		{"missing type", `{"data":{"id":"sub_1"}}`, true},
		{"empty type", `{"type":"","data":{}}`, true},
		{"missing data", `{"type":"subscription.created"}`, true},
		{"data not an object", `{"type":"subscription.created","data":[1,2]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.payload))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPayload)
				assert.Nil(t, env)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, env)
		})
	}
}

func TestDecodePolarSubscriptionEvent(t *testing.T) {
	body := `{
		"type": "subscription.created",
		"data": {
			"id": "polar_sub_1",
			"status": "active",
			"amount": 1999,
			"currency": "usd",
			"recurring_interval": "month",
			"current_period_start": "2026-08-01T00:00:00Z",
			"current_period_end": "2026-09-01T00:00:00Z",
			"cancel_at_period_end": false,
			"customer_id": "polar_cus_1",
			"customer": {"id": "polar_cus_1", "email": "jo@example.com", "name": "Jo"},
			"product_id": "prod_pro",
			"metadata": {"campaign": "launch"}
		}
	}`

	env, err := ParseEnvelope([]byte(body))
	require.NoError(t, err)

	ev, err := DecodePolarEvent(env, "wh_123")
	require.NoError(t, err)

	assert.Equal(t, EventSubscriptionCreated, ev.Kind)
	assert.Equal(t, models.PaymentProviderPolar, ev.Provider)
	assert.Equal(t, "wh_123", ev.ProviderEventID)
	assert.Equal(t, "subscription.created", ev.ProviderType)
	assert.Equal(t, "polar_sub_1", ev.Subscription.ProviderSubscriptionID)
	assert.Equal(t, "active", ev.Subscription.ProviderStatus)
	assert.Equal(t, int64(1999), ev.Subscription.AmountMinor)
	assert.Equal(t, "month", ev.Subscription.Interval)
	assert.Equal(t, "polar_cus_1", ev.Subscription.CustomerID)
	assert.Equal(t, "jo@example.com", ev.Subscription.CustomerEmail)
	assert.Equal(t, "prod_pro", ev.Subscription.PlanID)
	require.NotNil(t, ev.Subscription.PeriodEnd)
	assert.False(t, ev.Subscription.FinalFailure)
}

func TestDecodePolarEventFallsBackToEnvelopeID(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"id":"evt_9","type":"subscription.updated","data":{"id":"polar_sub_1","status":"active"}}`))
	require.NoError(t, err)

	ev, err := DecodePolarEvent(env, "")
	require.NoError(t, err)
	assert.Equal(t, "evt_9", ev.ProviderEventID)
}

func TestDecodePolarOrderPaid(t *testing.T) {
	body := `{
		"type": "order.paid",
		"data": {
			"id": "ord_55",
			"amount": 2500,
			"currency": "eur",
			"subscription_id": "polar_sub_7",
			"product_id": "prod_team",
			"customer_id": "polar_cus_2",
			"billing_reason": "subscription_cycle"
		}
	}`

	env, err := ParseEnvelope([]byte(body))
	require.NoError(t, err)

	ev, err := DecodePolarEvent(env, "wh_456")
	require.NoError(t, err)

	assert.Equal(t, EventPaymentSucceeded, ev.Kind)
	assert.Equal(t, "polar_sub_7", ev.Subscription.ProviderSubscriptionID)
	assert.Equal(t, "ord_55", ev.Subscription.InvoiceID)
	assert.Equal(t, int64(2500), ev.Subscription.AmountMinor)
	assert.Equal(t, "eur", ev.Subscription.Currency)
}

func TestDecodePolarEventErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unlisted type", `{"type":"benefit.granted","data":{"id":"x"}}`},
		{"subscription without id", `{"type":"subscription.created","data":{"status":"active"}}`},
		{"order without subscription id", `{"type":"order.paid","data":{"id":"ord_1"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.body))
			require.NoError(t, err)
			_, err = DecodePolarEvent(env, "wh_1")
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestDecodePolarFinalFailureFlag(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"subscription.updated","data":{"id":"polar_sub_3","status":"past_due","metadata":{"final_failure":"true"}}}`))
	require.NoError(t, err)

	ev, err := DecodePolarEvent(env, "wh_2")
	require.NoError(t, err)
	assert.True(t, ev.Subscription.FinalFailure)
}
