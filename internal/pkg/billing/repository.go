package billing

import (
	"time"

	"github.com/tradewindhq/tradewind/app/models"
	"gorm.io/gorm"
)

// Repository provides the DB operations used by the reconciliation service.
type Repository interface {
	GetSubscriptionByProviderSubscriptionID(provider, providerSubscriptionID string) (*models.Subscription, error)
	CreateSubscription(sub *models.Subscription) error
	UpdateSubscription(sub *models.Subscription) error
	LogSubscriptionChange(entry *models.SubscriptionChangeLog) error
	GetUserByCustomerID(provider, customerID string) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetSubscriptionByProviderSubscriptionID(provider, providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("payment_provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) CreateSubscription(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) UpdateSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) LogSubscriptionChange(entry *models.SubscriptionChangeLog) error {
	return r.db.Create(entry).Error
}

func (r *gormRepository) GetUserByCustomerID(provider, customerID string) (*models.User, error) {
	return models.FindUserByCustomerID(r.db, provider, customerID)
}

func (r *gormRepository) GetUserByEmail(email string) (*models.User, error) {
	return models.FindUserByEmail(r.db, email)
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	// Insert-if-absent against the unique (provider, provider_event_id)
	// index; a duplicate delivery is detected by zero rows affected.
	tx := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		FirstOrCreate(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	return tx.RowsAffected > 0, event, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}).Error
}
