package controllers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tradewindhq/tradewind/app/models"
	"github.com/tradewindhq/tradewind/internal/pkg/billing"
	"gorm.io/gorm"
)

const (
	testStripeSecret = "whsec_stripe_controller_test"
	testPolarKey     = "polar-signing-key-0123456789abcd"
)

type memRepo struct {
	subs      map[string]*models.Subscription
	logs      []*models.SubscriptionChangeLog
	users     []*models.User
	events    map[string]*models.WebhookEvent
	processed map[uint]string
	nextID    uint
}

func newMemRepo() *memRepo {
	return &memRepo{
		subs:      make(map[string]*models.Subscription),
		events:    make(map[string]*models.WebhookEvent),
		processed: make(map[uint]string),
	}
}

func (r *memRepo) GetSubscriptionByProviderSubscriptionID(provider, providerSubID string) (*models.Subscription, error) {
	sub, ok := r.subs[provider+"/"+providerSubID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *sub
	return &copied, nil
}

func (r *memRepo) CreateSubscription(sub *models.Subscription) error {
	r.nextID++
	sub.ID = r.nextID
	stored := *sub
	r.subs[sub.PaymentProvider+"/"+sub.ProviderSubscriptionID] = &stored
	return nil
}

func (r *memRepo) UpdateSubscription(sub *models.Subscription) error {
	stored := *sub
	r.subs[sub.PaymentProvider+"/"+sub.ProviderSubscriptionID] = &stored
	return nil
}

func (r *memRepo) LogSubscriptionChange(entry *models.SubscriptionChangeLog) error {
	r.logs = append(r.logs, entry)
	return nil
}

func (r *memRepo) GetUserByCustomerID(provider, customerID string) (*models.User, error) {
	for _, u := range r.users {
		if provider == models.PaymentProviderStripe && u.StripeCustomerID == customerID {
			return u, nil
		}
		if provider == models.PaymentProviderPolar && u.PolarCustomerID == customerID {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) GetUserByEmail(email string) (*models.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if existing, ok := r.events[key]; ok {
		return false, existing, nil
	}
	r.nextID++
	event.ID = r.nextID
	r.events[key] = event
	return true, event, nil
}

func (r *memRepo) MarkWebhookProcessed(id uint, processingError string) error {
	r.processed[id] = processingError
	return nil
}

func newWebhookTestApp(t *testing.T, repo billing.Repository) *fiber.App {
	t.Helper()
	t.Setenv("STRIPE_WEBHOOK_SECRET", testStripeSecret)
	t.Setenv("POLAR_WEBHOOK_SECRET", "whsec_"+base64.StdEncoding.EncodeToString([]byte(testPolarKey)))
	t.Setenv("CACHE_HOST", "")

	wc := NewWebhookController(billing.NewService(repo, nil))
	app := fiber.New()
	app.Post("/webhooks/stripe", wc.HandleStripeWebhook)
	app.Post("/webhooks/polar", wc.HandlePolarWebhook)
	return app
}

func stripeSignedRequest(body []byte) *http.Request {
	now := time.Now()
	sig := webhook.ComputeSignature(now, body, testStripeSecret)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%x", now.Unix(), sig))
	return req
}

func polarSignedRequest(body []byte, webhookID string) *http.Request {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(testPolarKey))
	fmt.Fprintf(mac, "%s.%s.", webhookID, ts)
	mac.Write(body)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/polar", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("webhook-id", webhookID)
	req.Header.Set("webhook-timestamp", ts)
	req.Header.Set("webhook-signature", "v1,"+base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func stripeCreatedBody(eventID string) []byte {
	return fmt.Appendf(nil, `{
		"id": %q,
		"type": "customer.subscription.created",
		"created": %d,
		"data": {
			"object": {
				"id": "sub_ctrl_1",
				"customer": "cus_ctrl_1",
				"status": "active",
				"items": {
					"data": [{
						"price": {
							"id": "price_1",
							"unit_amount": 1999,
							"currency": "usd",
							"recurring": {"interval": "month", "interval_count": 1},
							"product": "prod_pro"
						}
					}]
				}
			}
		}
	}`, eventID, time.Now().Unix())
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	repo := newMemRepo()
	app := newWebhookTestApp(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(stripeCreatedBody("evt_1")))
	req.Header.Set("Stripe-Signature", "t=0,v1=deadbeef")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, repo.events, "unverified deliveries must not be persisted")
}

func TestStripeWebhookProcessesCreatedEvent(t *testing.T) {
	repo := newMemRepo()
	repo.users = append(repo.users, &models.User{ID: 7, Email: "jo@example.com", StripeCustomerID: "cus_ctrl_1"})
	app := newWebhookTestApp(t, repo)

	resp, err := app.Test(stripeSignedRequest(stripeCreatedBody("evt_1")))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["received"])

	sub := repo.subs[models.PaymentProviderStripe+"/sub_ctrl_1"]
	require.NotNil(t, sub)
	assert.Equal(t, uint(7), sub.UserID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "19.99", sub.Amount.StringFixed(2))

	stored := repo.events[models.PaymentProviderStripe+"/evt_1"]
	require.NotNil(t, stored)
	assert.True(t, stored.SignatureValid)
	assert.Equal(t, "", repo.processed[stored.ID])
}

func TestStripeWebhookDuplicateDelivery(t *testing.T) {
	repo := newMemRepo()
	repo.users = append(repo.users, &models.User{ID: 7, Email: "jo@example.com", StripeCustomerID: "cus_ctrl_1"})
	app := newWebhookTestApp(t, repo)

	resp, err := app.Test(stripeSignedRequest(stripeCreatedBody("evt_1")))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(stripeSignedRequest(stripeCreatedBody("evt_1")))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["duplicate"])
	assert.Len(t, repo.logs, 1, "duplicate must not re-run the handler")
}

func TestStripeWebhookIgnoresUnlistedEventType(t *testing.T) {
	repo := newMemRepo()
	app := newWebhookTestApp(t, repo)

	body := fmt.Appendf(nil, `{"id":"evt_2","type":"charge.refunded","created":%d,"data":{"object":{"id":"ch_1"}}}`, time.Now().Unix())
	resp, err := app.Test(stripeSignedRequest(body))
	require.NoError(t, err)

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["ignored"])
	assert.NotNil(t, repo.events[models.PaymentProviderStripe+"/evt_2"], "ignored deliveries still land in the audit trail")
	assert.Empty(t, repo.subs)
}

func TestPolarWebhookProcessesSubscriptionCreated(t *testing.T) {
	repo := newMemRepo()
	repo.users = append(repo.users, &models.User{ID: 9, Email: "jo@example.com", PolarCustomerID: "polar_cus_1"})
	app := newWebhookTestApp(t, repo)

	body := []byte(`{"type":"subscription.created","data":{"id":"polar_sub_1","status":"active","amount":2500,"currency":"usd","recurring_interval":"month","customer_id":"polar_cus_1","product_id":"prod_team"}}`)
	resp, err := app.Test(polarSignedRequest(body, "wh_1"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	sub := repo.subs[models.PaymentProviderPolar+"/polar_sub_1"]
	require.NotNil(t, sub)
	assert.Equal(t, uint(9), sub.UserID)
	assert.Equal(t, "25.00", sub.Amount.StringFixed(2))
}

func TestPolarWebhookRecordsInvalidSignature(t *testing.T) {
	repo := newMemRepo()
	app := newWebhookTestApp(t, repo)

	body := []byte(`{"type":"subscription.created","data":{"id":"polar_sub_1","status":"active"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/polar", bytes.NewReader(body))
	req.Header.Set("webhook-id", "wh_bad")
	req.Header.Set("webhook-timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("webhook-signature", "v1,aW52YWxpZA==")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	stored := repo.events[models.PaymentProviderPolar+"/wh_bad"]
	require.NotNil(t, stored, "rejected deliveries are kept for forensics")
	assert.False(t, stored.SignatureValid)
	assert.Empty(t, repo.subs)
}

func TestPolarWebhookRejectsMalformedBody(t *testing.T) {
	repo := newMemRepo()
	app := newWebhookTestApp(t, repo)

	resp, err := app.Test(polarSignedRequest([]byte(`{"data":{"id":"x"}}`), "wh_2"))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, repo.events)
}
