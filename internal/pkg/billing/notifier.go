package billing

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tradewindhq/tradewind/internal/pkg/logging"
	"github.com/tradewindhq/tradewind/internal/pkg/mail"
)

// Notification carries the customer-facing fields for one billing email.
type Notification struct {
	CustomerName  string
	CustomerEmail string
	PlanID        string
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	PeriodEnd     *time.Time
	TrialEnd      *time.Time
}

// Notifier sends best-effort customer notifications after a reconciliation
// handler commits its state change. Implementations must never propagate
// failures: a bounced email cannot be allowed to fail the webhook and trigger
// provider redelivery, nor roll back committed state.
type Notifier interface {
	NewSubscription(n Notification)
	SubscriptionUpdated(n Notification)
	SubscriptionCancelled(n Notification)
	PaymentSucceeded(n Notification)
	PaymentFailed(n Notification)
	TrialEnding(n Notification)
}

// NopNotifier drops all notifications, used when mail is not configured.
type NopNotifier struct{}

func (NopNotifier) NewSubscription(Notification)       {}
func (NopNotifier) SubscriptionUpdated(Notification)   {}
func (NopNotifier) SubscriptionCancelled(Notification) {}
func (NopNotifier) PaymentSucceeded(Notification)      {}
func (NopNotifier) PaymentFailed(Notification)         {}
func (NopNotifier) TrialEnding(Notification)           {}

// MailNotifier delivers notifications through the SMTP mail templates.
type MailNotifier struct{}

func NewMailNotifier() *MailNotifier {
	return &MailNotifier{}
}

func (m *MailNotifier) send(kind string, n Notification, f func(mail.BillingMailData) error) {
	if n.CustomerEmail == "" {
		logging.LogWarn("billing notification skipped, no recipient", logrus.Fields{"kind": kind})
		return
	}
	data := mail.BillingMailData{
		CustomerName:  n.CustomerName,
		CustomerEmail: n.CustomerEmail,
		PlanName:      n.PlanID,
		Amount:        n.Amount.StringFixed(2),
		Currency:      n.Currency,
		PaymentMethod: n.PaymentMethod,
		PeriodEnd:     n.PeriodEnd,
		TrialEnd:      n.TrialEnd,
	}
	if err := f(data); err != nil {
		logging.LogError(err, "billing notification send failed: "+kind)
	}
}

func (m *MailNotifier) NewSubscription(n Notification) {
	m.send("new_subscription", n, mail.SendNewSubscriptionEmail)
}

func (m *MailNotifier) SubscriptionUpdated(n Notification) {
	m.send("subscription_updated", n, mail.SendSubscriptionUpdatedEmail)
}

func (m *MailNotifier) SubscriptionCancelled(n Notification) {
	m.send("subscription_cancelled", n, mail.SendSubscriptionCancelledEmail)
}

func (m *MailNotifier) PaymentSucceeded(n Notification) {
	m.send("payment_succeeded", n, mail.SendPaymentSucceededEmail)
}

func (m *MailNotifier) PaymentFailed(n Notification) {
	m.send("payment_failed", n, mail.SendPaymentFailedEmail)
}

func (m *MailNotifier) TrialEnding(n Notification) {
	m.send("trial_ending", n, mail.SendTrialEndingEmail)
}
