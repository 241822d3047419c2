package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tradewindhq/tradewind/app/models"
	"github.com/tradewindhq/tradewind/internal/pkg/logging"
	"gorm.io/gorm"
)

// Service is the single source of truth translating provider webhook payloads
// into internal Subscription state.
type Service struct {
	repo     Repository
	notifier Notifier
}

// NewService creates a reconciliation service from injected collaborators.
func NewService(repo Repository, notifier Notifier) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{repo: repo, notifier: notifier}
}

// NewServiceFromDB creates a service with the GORM repository and the mail
// notifier, the production wiring.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), NewMailNotifier())
}

// RecordWebhookEvent persists a webhook payload idempotently. The bool is
// false when the same provider event id was already stored.
func (s *Service) RecordWebhookEvent(ctx context.Context, provider, providerEventID, eventType string, payload []byte, signatureValid bool) (bool, *models.WebhookEvent, error) {
	_ = ctx
	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: providerEventID,
		EventType:       eventType,
		PayloadJSON:     string(payload),
		SignatureValid:  signatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed stamps an event as handled, storing the handler error
// if any.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// HandleSubscriptionCreated creates the local subscription row. Redelivery of
// the same event finds the existing row and changes nothing.
func (s *Service) HandleSubscriptionCreated(ctx context.Context, ev Event) HandlerResult {
	_ = ctx
	existing, err := s.lookup(ev)
	if err != nil {
		return failed(err, "subscription lookup failed")
	}
	if existing != nil {
		return success(existing.ID, "subscription already exists")
	}

	sub, res := s.synthesize(ev)
	if sub == nil {
		return res
	}
	s.notifier.NewSubscription(s.notification(sub, ev))
	return success(sub.ID, "subscription created")
}

// HandleSubscriptionUpdated applies provider field changes, synthesizing the
// row first if the created event never arrived.
func (s *Service) HandleSubscriptionUpdated(ctx context.Context, ev Event) HandlerResult {
	_ = ctx
	sub, res, err := s.lookupOrSynthesize(ev)
	if err != nil {
		return failed(err, "subscription lookup failed")
	}
	if sub == nil {
		return res
	}
	if res.Message == msgSynthesized {
		return success(sub.ID, "subscription synthesized from update")
	}
	if sub.IsTerminal() {
		return success(sub.ID, "subscription already cancelled, update ignored")
	}

	prev := snapshot(sub)
	if !s.applyData(sub, ev) {
		return success(sub.ID, "no change")
	}
	if err := s.repo.UpdateSubscription(sub); err != nil {
		return failed(err, "subscription update failed")
	}
	if err := s.logChange(sub, ev, prev, "provider update"); err != nil {
		return failed(err, "change log write failed")
	}
	s.notifier.SubscriptionUpdated(s.notification(sub, ev))
	return success(sub.ID, "subscription updated")
}

// HandleSubscriptionCancelled marks the subscription cancelled. Cancellation
// is terminal: repeated delivery is a no-op, and no later event revives the
// row.
func (s *Service) HandleSubscriptionCancelled(ctx context.Context, ev Event) HandlerResult {
	_ = ctx
	sub, res, err := s.lookupOrSynthesize(ev)
	if err != nil {
		return failed(err, "subscription lookup failed")
	}
	if sub == nil {
		return res
	}
	if res.Message == msgSynthesized {
		s.notifier.SubscriptionCancelled(s.notification(sub, ev))
		return success(sub.ID, "subscription synthesized from cancellation")
	}
	if sub.IsTerminal() {
		return success(sub.ID, "subscription already cancelled")
	}

	prev := snapshot(sub)
	sub.Status = models.SubscriptionStatusCancelled
	cancelledAt := time.Now()
	if ev.Subscription.CancelledAt != nil {
		cancelledAt = *ev.Subscription.CancelledAt
	}
	sub.CancelledAt = &cancelledAt
	sub.SetCancelAtPeriodEnd(ev.Subscription.CancelAtPeriodEnd)
	if ev.Subscription.CancelReason != "" {
		sub.CancelReason = ev.Subscription.CancelReason
	}

	if err := s.repo.UpdateSubscription(sub); err != nil {
		return failed(err, "subscription cancel failed")
	}
	if err := s.logChange(sub, ev, prev, "provider cancellation"); err != nil {
		return failed(err, "change log write failed")
	}
	s.notifier.SubscriptionCancelled(s.notification(sub, ev))
	return success(sub.ID, "subscription cancelled")
}

// HandlePaymentSucceeded activates or renews the subscription. A payment
// event arriving before the created event synthesizes an active row rather
// than failing.
func (s *Service) HandlePaymentSucceeded(ctx context.Context, ev Event) HandlerResult {
	_ = ctx
	sub, res, err := s.lookupOrSynthesize(ev)
	if err != nil {
		return failed(err, "subscription lookup failed")
	}
	if sub == nil {
		return res
	}
	if res.Message == msgSynthesized {
		s.notifier.PaymentSucceeded(s.notification(sub, ev))
		return success(sub.ID, "subscription synthesized from payment")
	}
	if sub.IsTerminal() {
		return success(sub.ID, "subscription already cancelled, payment ignored")
	}
	if ev.Subscription.InvoiceID != "" && sub.InvoiceID == ev.Subscription.InvoiceID &&
		sub.Status == models.SubscriptionStatusActive {
		return success(sub.ID, "invoice already applied")
	}

	prev := snapshot(sub)
	sub.Status = models.SubscriptionStatusActive
	s.applyData(sub, ev)
	if err := s.repo.UpdateSubscription(sub); err != nil {
		return failed(err, "subscription update failed")
	}
	if err := s.logChange(sub, ev, prev, "payment received"); err != nil {
		return failed(err, "change log write failed")
	}
	s.notifier.PaymentSucceeded(s.notification(sub, ev))
	return success(sub.ID, "payment applied")
}

// HandlePaymentFailed pauses the subscription only on a final failure; a
// routine single-attempt failure leaves the status alone so the provider can
// retry the charge.
func (s *Service) HandlePaymentFailed(ctx context.Context, ev Event) HandlerResult {
	_ = ctx
	sub, res, err := s.lookupOrSynthesize(ev)
	if err != nil {
		return failed(err, "subscription lookup failed")
	}
	if sub == nil {
		return res
	}
	if sub.IsTerminal() {
		return success(sub.ID, "subscription already cancelled, failure ignored")
	}

	final := ev.Subscription.FinalFailure ||
		MapProviderStatus(ev.Provider, ev.Subscription.ProviderStatus) == models.SubscriptionStatusPaused
	if !final {
		s.notifier.PaymentFailed(s.notification(sub, ev))
		return success(sub.ID, "payment failed, provider retry pending")
	}
	if sub.Status == models.SubscriptionStatusPaused {
		return success(sub.ID, "subscription already paused")
	}

	prev := snapshot(sub)
	sub.Status = models.SubscriptionStatusPaused
	if err := s.repo.UpdateSubscription(sub); err != nil {
		return failed(err, "subscription update failed")
	}
	if err := s.logChange(sub, ev, prev, "final payment failure"); err != nil {
		return failed(err, "change log write failed")
	}
	s.notifier.PaymentFailed(s.notification(sub, ev))
	return success(sub.ID, "subscription paused after final payment failure")
}

// HandleTrialEnding records an updated trial end when the provider supplies
// one and notifies the customer. No status transition happens here.
func (s *Service) HandleTrialEnding(ctx context.Context, ev Event) HandlerResult {
	_ = ctx
	sub, res, err := s.lookupOrSynthesize(ev)
	if err != nil {
		return failed(err, "subscription lookup failed")
	}
	if sub == nil {
		return res
	}
	if sub.IsTerminal() {
		return success(sub.ID, "subscription already cancelled, trial notice ignored")
	}

	if ev.Subscription.TrialEnd != nil && (sub.TrialEnd == nil || !sub.TrialEnd.Equal(*ev.Subscription.TrialEnd)) {
		prev := snapshot(sub)
		sub.TrialEnd = ev.Subscription.TrialEnd
		if err := s.repo.UpdateSubscription(sub); err != nil {
			return failed(err, "subscription update failed")
		}
		if err := s.logChange(sub, ev, prev, "trial end updated"); err != nil {
			return failed(err, "change log write failed")
		}
	}
	s.notifier.TrialEnding(s.notification(sub, ev))
	return success(sub.ID, "trial ending notice handled")
}

const msgSynthesized = "synthesized"

func (s *Service) lookup(ev Event) (*models.Subscription, error) {
	sub, err := s.repo.GetSubscriptionByProviderSubscriptionID(ev.Provider, ev.Subscription.ProviderSubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// lookupOrSynthesize tolerates missed or out-of-order created events: when no
// row exists for a non-created event, one is synthesized from the payload.
// Returns (nil, result, nil) when the event should be acknowledged without a
// row (no linked user).
func (s *Service) lookupOrSynthesize(ev Event) (*models.Subscription, HandlerResult, error) {
	sub, err := s.lookup(ev)
	if err != nil {
		return nil, HandlerResult{}, err
	}
	if sub != nil {
		return sub, HandlerResult{}, nil
	}

	sub, res := s.synthesize(ev)
	if sub == nil {
		return nil, res, nil
	}
	res.Message = msgSynthesized
	return sub, res, nil
}

// synthesize creates a subscription row from the event payload and writes the
// creation audit entry. Returns (nil, result) when no local user is linked to
// the provider customer; such events are acknowledged and dropped, matching
// the provider contract of not retrying forever.
func (s *Service) synthesize(ev Event) (*models.Subscription, HandlerResult) {
	user, err := s.resolveUser(ev)
	if err != nil {
		return nil, failed(err, "user lookup failed")
	}
	if user == nil {
		return nil, success(0, "no linked user, event ignored")
	}

	data := ev.Subscription
	status := MapProviderStatus(ev.Provider, data.ProviderStatus)
	if data.ProviderStatus == "" {
		// A payment proves the subscription is live even when the payload
		// carries no status of its own.
		if ev.Kind == EventPaymentSucceeded {
			status = models.SubscriptionStatusActive
		} else {
			status = models.SubscriptionStatusPending
		}
	}

	sub := &models.Subscription{
		UserID:                 user.ID,
		PlanID:                 data.PlanID,
		Status:                 status,
		PaymentProvider:        ev.Provider,
		ProviderSubscriptionID: data.ProviderSubscriptionID,
		CustomerID:             data.CustomerID,
		PriceID:                data.PriceID,
		Currency:               data.Currency,
		BillingInterval:        NormalizeInterval(data.Interval),
		IntervalCount:          max(data.IntervalCount, 1),
		TrialStart:             data.TrialStart,
		TrialEnd:               data.TrialEnd,
		PeriodStart:            data.PeriodStart,
		PeriodEnd:              data.PeriodEnd,
		InvoiceID:              data.InvoiceID,
		Metadata:               marshalMetadata(data.Metadata),
	}
	if sub.Currency == "" {
		sub.Currency = "usd"
	}
	if data.AmountMinor > 0 {
		sub.Amount = models.AmountFromMinorUnits(data.AmountMinor)
	}
	sub.SetCancelAtPeriodEnd(data.CancelAtPeriodEnd)
	sub.CancelledAt = data.CancelledAt
	sub.CancelReason = data.CancelReason
	if sub.Status == models.SubscriptionStatusCancelled && sub.CancelledAt == nil {
		now := time.Now()
		sub.CancelledAt = &now
	}

	if err := s.repo.CreateSubscription(sub); err != nil {
		return nil, failed(err, "subscription create failed")
	}
	if err := s.logChange(sub, ev, subSnapshot{}, "subscription record created"); err != nil {
		return nil, failed(err, "change log write failed")
	}
	return sub, success(sub.ID, "created")
}

func (s *Service) resolveUser(ev Event) (*models.User, error) {
	data := ev.Subscription
	if data.CustomerID != "" {
		user, err := s.repo.GetUserByCustomerID(ev.Provider, data.CustomerID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if data.CustomerEmail != "" {
		user, err := s.repo.GetUserByEmail(data.CustomerEmail)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// applyData copies payload fields onto the row and reports whether anything
// changed. Zero-valued payload fields leave the row untouched.
func (s *Service) applyData(sub *models.Subscription, ev Event) bool {
	data := ev.Subscription
	changed := false

	if data.ProviderStatus != "" {
		if mapped := MapProviderStatus(ev.Provider, data.ProviderStatus); mapped != sub.Status {
			sub.Status = mapped
			changed = true
		}
	}
	if data.PlanID != "" && data.PlanID != sub.PlanID {
		sub.PlanID = data.PlanID
		changed = true
	}
	if data.PriceID != "" && data.PriceID != sub.PriceID {
		sub.PriceID = data.PriceID
		changed = true
	}
	if data.Currency != "" && data.Currency != sub.Currency {
		sub.Currency = data.Currency
		changed = true
	}
	if data.AmountMinor > 0 {
		if amount := models.AmountFromMinorUnits(data.AmountMinor); !amount.Equal(sub.Amount) {
			sub.Amount = amount
			changed = true
		}
	}
	if data.Interval != "" {
		if interval := NormalizeInterval(data.Interval); interval != sub.BillingInterval {
			sub.BillingInterval = interval
			changed = true
		}
	}
	if data.IntervalCount > 0 && data.IntervalCount != sub.IntervalCount {
		sub.IntervalCount = data.IntervalCount
		changed = true
	}
	if data.CancelAtPeriodEnd != sub.CancelAtPeriodEnd {
		sub.SetCancelAtPeriodEnd(data.CancelAtPeriodEnd)
		changed = true
	}
	if !timesEqual(sub.TrialStart, data.TrialStart) && data.TrialStart != nil {
		sub.TrialStart = data.TrialStart
		changed = true
	}
	if !timesEqual(sub.TrialEnd, data.TrialEnd) && data.TrialEnd != nil {
		sub.TrialEnd = data.TrialEnd
		changed = true
	}
	if !timesEqual(sub.PeriodStart, data.PeriodStart) && data.PeriodStart != nil {
		sub.PeriodStart = data.PeriodStart
		changed = true
	}
	if !timesEqual(sub.PeriodEnd, data.PeriodEnd) && data.PeriodEnd != nil {
		sub.PeriodEnd = data.PeriodEnd
		changed = true
	}
	if data.InvoiceID != "" && data.InvoiceID != sub.InvoiceID {
		sub.InvoiceID = data.InvoiceID
		changed = true
	}
	return changed
}

type subSnapshot struct {
	Status string
	PlanID string
}

func snapshot(sub *models.Subscription) subSnapshot {
	return subSnapshot{Status: sub.Status, PlanID: sub.PlanID}
}

// logChange appends exactly one audit entry for the transition just applied.
// Raw provider strings ride along in the metadata for forensics.
func (s *Service) logChange(sub *models.Subscription, ev Event, prev subSnapshot, reason string) error {
	meta := map[string]interface{}{
		"provider":                 ev.Provider,
		"webhook_event_type":       ev.ProviderType,
		"provider_subscription_id": ev.Subscription.ProviderSubscriptionID,
		"provider_status":          ev.Subscription.ProviderStatus,
	}
	if ev.ProviderEventID != "" {
		meta["provider_event_id"] = ev.ProviderEventID
	}
	metaJSON, _ := json.Marshal(meta)

	return s.repo.LogSubscriptionChange(&models.SubscriptionChangeLog{
		SubscriptionID: sub.ID,
		EventName:      ev.Kind.String(),
		PreviousStatus: prev.Status,
		NewStatus:      sub.Status,
		PreviousPlanID: prev.PlanID,
		NewPlanID:      sub.PlanID,
		Reason:         reason,
		Metadata:       string(metaJSON),
	})
}

func (s *Service) notification(sub *models.Subscription, ev Event) Notification {
	n := Notification{
		CustomerName:  ev.Subscription.CustomerName,
		CustomerEmail: ev.Subscription.CustomerEmail,
		PlanID:        sub.PlanID,
		Amount:        sub.Amount,
		Currency:      sub.Currency,
		PeriodEnd:     sub.PeriodEnd,
		TrialEnd:      sub.TrialEnd,
	}
	if n.CustomerEmail == "" {
		if user, err := s.resolveUser(ev); err == nil && user != nil {
			n.CustomerEmail = user.Email
			if n.CustomerName == "" {
				n.CustomerName = user.Name
			}
		}
	}
	return n
}

func marshalMetadata(meta map[string]string) string {
	if len(meta) == 0 {
		return "{}"
	}
	b, err := json.Marshal(meta)
	if err != nil {
		logging.LogError(err, fmt.Sprintf("metadata marshal failed for %d keys", len(meta)))
		return "{}"
	}
	return string(b)
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
