package counter

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/tradewindhq/tradewind/internal/pkg/cache"
)

const (
	webhookReceivedKey  = "webhook:counters:received"
	webhookDuplicateKey = "webhook:counters:duplicate"
	webhookFailedKey    = "webhook:counters:failed"
)

// AddWebhookReceived increments the delivery counter for a provider event type.
func AddWebhookReceived(provider, eventType string) error {
	return incr(webhookReceivedKey, provider+":"+eventType)
}

// AddWebhookDuplicate increments the duplicate-delivery counter for a provider.
func AddWebhookDuplicate(provider string) error {
	return incr(webhookDuplicateKey, provider)
}

// AddWebhookFailed increments the failed-handler counter for a provider.
func AddWebhookFailed(provider string) error {
	return incr(webhookFailedKey, provider)
}

func incr(key, field string) error {
	return cache.GetClient().HIncrBy(context.Background(), key, field, 1).Err()
}

// Stats is a point-in-time snapshot of the webhook counters.
type Stats struct {
	Received   map[string]int64 `json:"received"`
	Duplicates map[string]int64 `json:"duplicates"`
	Failed     map[string]int64 `json:"failed"`
}

// Snapshot reads all webhook counters. Counters live only in Redis; they are
// operational telemetry, not an audit source (that is the webhook_events
// table).
func Snapshot() (Stats, error) {
	received, err := readHash(webhookReceivedKey)
	if err != nil {
		return Stats{}, err
	}
	duplicates, err := readHash(webhookDuplicateKey)
	if err != nil {
		return Stats{}, err
	}
	failed, err := readHash(webhookFailedKey)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Received: received, Duplicates: duplicates, Failed: failed}, nil
}

func readHash(key string) (map[string]int64, error) {
	result := make(map[string]int64)
	data, err := cache.GetClient().HGetAll(context.Background(), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return result, nil
		}
		return nil, err
	}
	for field, value := range data {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		result[field] = n
	}
	return result, nil
}
