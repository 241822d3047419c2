package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Internal subscription lifecycle statuses. Cancellation is terminal for a
// subscription row; a resubscribe creates a new row under a new provider
// subscription id.
const (
	SubscriptionStatusPending   = "pending"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusPaused    = "paused"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
)

const (
	PaymentProviderStripe = "stripe"
	PaymentProviderPolar  = "polar"
)

const (
	BillingIntervalDay     = "day"
	BillingIntervalWeek    = "week"
	BillingIntervalMonth   = "month"
	BillingIntervalYear    = "year"
	BillingIntervalUnknown = "unknown"
)

// Subscription mirrors a payment-provider subscription. Exactly one row exists
// per (payment_provider, provider_subscription_id); rows are never hard-deleted.
type Subscription struct {
	ID                     uint            `gorm:"primaryKey" json:"id"`
	UserID                 uint            `gorm:"not null;index" json:"user_id"`
	PlanID                 string          `gorm:"type:varchar(191);not null;default:'';index" json:"plan_id"`
	Status                 string          `gorm:"type:varchar(32);not null;default:'pending';index:idx_subscriptions_provider_status,priority:2" json:"status"`
	PaymentProvider        string          `gorm:"type:varchar(20);not null;index:idx_subscriptions_provider_status,priority:1;index:ux_subscriptions_provider_subid,unique,priority:1" json:"payment_provider"`
	ProviderSubscriptionID string          `gorm:"type:varchar(191);not null;index:ux_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	CustomerID             string          `gorm:"type:varchar(191);not null;default:'';index" json:"customer_id"`
	PriceID                string          `gorm:"type:varchar(191);not null;default:''" json:"price_id"`
	Currency               string          `gorm:"type:varchar(8);not null;default:'usd'" json:"currency"`
	Amount                 decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"amount"`
	BillingInterval        string          `gorm:"type:varchar(16);not null;default:'unknown'" json:"billing_interval"`
	IntervalCount          int             `gorm:"not null;default:1" json:"interval_count"`
	TrialStart             *time.Time      `gorm:"type:timestamp;default:null" json:"trial_start,omitempty"`
	TrialEnd               *time.Time      `gorm:"type:timestamp;default:null" json:"trial_end,omitempty"`
	CancelledAt            *time.Time      `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	CancelAtPeriodEnd      bool            `gorm:"default:false" json:"cancel_at_period_end"`
	AutoRenewal            bool            `gorm:"default:true" json:"auto_renewal"`
	CancelReason           string          `gorm:"type:varchar(255);default:''" json:"cancel_reason,omitempty"`
	PeriodStart            *time.Time      `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`
	PeriodEnd              *time.Time      `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	InvoiceID              string          `gorm:"type:varchar(191);not null;default:''" json:"invoice_id"`
	Metadata               string          `gorm:"type:longtext" json:"metadata"`
	CreatedAt              time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// SetCancelAtPeriodEnd writes both cancellation booleans in one place so they
// can never diverge: auto-renewal is the exact inverse of cancel-at-period-end.
func (s *Subscription) SetCancelAtPeriodEnd(v bool) {
	s.CancelAtPeriodEnd = v
	s.AutoRenewal = !v
}

// IsTerminal reports whether the subscription reached a state that no further
// event may leave.
func (s *Subscription) IsTerminal() bool {
	return s.Status == SubscriptionStatusCancelled
}

// AmountFromMinorUnits converts provider minor units (cents) to a decimal
// currency amount, e.g. 1999 -> 19.99.
func AmountFromMinorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(100))
}
