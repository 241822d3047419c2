package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/tradewindhq/tradewind/app/models"
	"github.com/tradewindhq/tradewind/internal/pkg/billing"
	"github.com/tradewindhq/tradewind/internal/pkg/cache"
	"github.com/tradewindhq/tradewind/internal/pkg/env"
	"github.com/tradewindhq/tradewind/internal/pkg/logging"
	"github.com/tradewindhq/tradewind/internal/pkg/metrics/counter"
)

const (
	maxWebhookBodyBytes = 1 << 20 // provider payloads stay well under 1 MiB
	webhookDedupTTL     = 24 * time.Hour
	webhookTimeout      = 15 * time.Second
)

// WebhookController receives payment-provider webhooks, verifies them and
// hands the decoded events to the billing service. All collaborators are
// injected at startup.
type WebhookController struct {
	billing      *billing.Service
	stripeSecret string
	polarSecret  string
	redisEnabled bool
}

func NewWebhookController(svc *billing.Service) *WebhookController {
	return &WebhookController{
		billing:      svc,
		stripeSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		polarSecret:  env.GetEnv("POLAR_WEBHOOK_SECRET", ""),
		redisEnabled: env.GetEnv("CACHE_HOST", "") != "",
	}
}

// HandleStripeWebhook verifies the Stripe-Signature header, stores the event
// and routes it. The signature check doubles as payload parsing, so an
// unverifiable delivery is rejected before anything touches the database.
func (wc *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	if len(rawBody) == 0 || len(rawBody) > maxWebhookBodyBytes {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}

	event, err := billing.VerifyStripeEvent(rawBody, c.Get("Stripe-Signature"), wc.stripeSecret)
	if err != nil {
		logging.LogWarn("stripe webhook rejected", logrus.Fields{"reason": err.Error()})
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	if wc.seenRecently(models.PaymentProviderStripe, event.ID) {
		wc.countDuplicate(models.PaymentProviderStripe)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "duplicate": true})
	}

	created, stored, err := wc.billing.RecordWebhookEvent(ctx, models.PaymentProviderStripe, event.ID, string(event.Type), rawBody, true)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		wc.countDuplicate(models.PaymentProviderStripe)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "duplicate": true})
	}

	ev, routed, err := billing.DecodeStripeEvent(event)
	if err != nil {
		_ = wc.billing.MarkWebhookProcessed(ctx, stored.ID, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if !routed {
		_ = wc.billing.MarkWebhookProcessed(ctx, stored.ID, nil)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "ignored": true})
	}

	return wc.finish(ctx, c, stored.ID, ev)
}

// HandlePolarWebhook handles Polar deliveries signed with the Standard
// Webhooks scheme. The body shape is checked before the signature so obviously
// malformed requests fail fast; the delivery is persisted either way to keep
// the audit trail complete.
func (wc *WebhookController) HandlePolarWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	if len(rawBody) == 0 || len(rawBody) > maxWebhookBodyBytes {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}

	envlp, err := billing.ParseEnvelope(rawBody)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	webhookID := strings.TrimSpace(c.Get("webhook-id"))
	timestamp := strings.TrimSpace(c.Get("webhook-timestamp"))
	signature := strings.TrimSpace(c.Get("webhook-signature"))
	signatureValid := billing.VerifyStandardWebhookSignature(rawBody, webhookID, timestamp, signature, wc.polarSecret)

	eventID := webhookID
	if eventID == "" {
		eventID = envlp.ID
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	if signatureValid && wc.seenRecently(models.PaymentProviderPolar, eventID) {
		wc.countDuplicate(models.PaymentProviderPolar)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "duplicate": true})
	}

	created, stored, err := wc.billing.RecordWebhookEvent(ctx, models.PaymentProviderPolar, eventID, envlp.Type, rawBody, signatureValid)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		wc.countDuplicate(models.PaymentProviderPolar)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "duplicate": true})
	}
	if !signatureValid {
		_ = wc.billing.MarkWebhookProcessed(ctx, stored.ID, errors.New("invalid webhook signature"))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	if _, ok := billing.ParseEventType(models.PaymentProviderPolar, envlp.Type); !ok {
		_ = wc.billing.MarkWebhookProcessed(ctx, stored.ID, nil)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "ignored": true})
	}

	ev, err := billing.DecodePolarEvent(envlp, eventID)
	if err != nil {
		_ = wc.billing.MarkWebhookProcessed(ctx, stored.ID, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	return wc.finish(ctx, c, stored.ID, ev)
}

func (wc *WebhookController) finish(ctx context.Context, c *fiber.Ctx, webhookEventID uint, ev billing.Event) error {
	res := wc.billing.RouteEvent(ctx, ev)
	_ = wc.billing.MarkWebhookProcessed(ctx, webhookEventID, res.Err)
	if !res.Success {
		logging.LogError(res.Err, fmt.Sprintf("webhook handling failed: %s", res.Message))
		wc.countFailed(ev.Provider)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": res.Message})
	}
	wc.countReceived(ev.Provider, ev.ProviderType)
	wc.markSeen(ev.Provider, ev.ProviderEventID)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
}

// HandleWebhookStats reports the webhook delivery counters.
func (wc *WebhookController) HandleWebhookStats(c *fiber.Ctx) error {
	stats, err := counter.Snapshot()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

// Counter writes are telemetry only and never fail a request.
func (wc *WebhookController) countReceived(provider, eventType string) {
	if wc.redisEnabled {
		_ = counter.AddWebhookReceived(provider, eventType)
	}
}

func (wc *WebhookController) countDuplicate(provider string) {
	if wc.redisEnabled {
		_ = counter.AddWebhookDuplicate(provider)
	}
}

func (wc *WebhookController) countFailed(provider string) {
	if wc.redisEnabled {
		_ = counter.AddWebhookFailed(provider)
	}
}

// seenRecently consults the redis fast path. The durable dedup lives in the
// webhook_events unique index; redis only short-circuits repeat deliveries
// without a database round trip, so a cache error reads as "not seen".
func (wc *WebhookController) seenRecently(provider, eventID string) bool {
	if !wc.redisEnabled || eventID == "" {
		return false
	}
	exists, err := cache.Exists(dedupKey(provider, eventID))
	if err != nil {
		return false
	}
	return exists
}

func (wc *WebhookController) markSeen(provider, eventID string) {
	if !wc.redisEnabled || eventID == "" {
		return
	}
	if err := cache.Set(dedupKey(provider, eventID), "1", webhookDedupTTL); err != nil {
		logging.LogWarn("webhook dedup cache write failed", logrus.Fields{"provider": provider})
	}
}

func dedupKey(provider, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", provider, eventID)
}
