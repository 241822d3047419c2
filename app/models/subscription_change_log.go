package models

import "time"

// SubscriptionChangeLog is an append-only audit record of one subscription
// state transition. Rows are never updated or deleted; every mutation of a
// Subscription writes exactly one entry.
type SubscriptionChangeLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID uint      `gorm:"not null;index" json:"subscription_id"`
	EventName      string    `gorm:"type:varchar(100);not null;index" json:"event_name"`
	PreviousStatus string    `gorm:"type:varchar(32);not null;default:''" json:"previous_status"`
	NewStatus      string    `gorm:"type:varchar(32);not null" json:"new_status"`
	PreviousPlanID string    `gorm:"type:varchar(191);not null;default:''" json:"previous_plan_id"`
	NewPlanID      string    `gorm:"type:varchar(191);not null;default:''" json:"new_plan_id"`
	Reason         string    `gorm:"type:varchar(255);not null;default:''" json:"reason"`
	Metadata       string    `gorm:"type:longtext" json:"metadata"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
