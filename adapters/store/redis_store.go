package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/layer-3/garuda/core"
	"github.com/layer-3/garuda/ports"
)

// RecordChangedTopic carries credential-store change notifications between
// instances. Messages carry only the subject; consumers re-read the store.
const RecordChangedTopic = "garuda.authrecord.changed"

// RedisStore is a Redis implementation of the CredentialStore interface.
// Change notifications travel over a watermill Pub/Sub so every instance
// re-reads durable state instead of trusting its own memory.
type RedisStore struct {
	client     *redis.Client
	publisher  message.Publisher
	subscriber message.Subscriber
	prefix     string
}

// NewRedisStore creates a new Redis credential store
func NewRedisStore(client *redis.Client, publisher message.Publisher, subscriber message.Subscriber) *RedisStore {
	return &RedisStore{
		client:     client,
		publisher:  publisher,
		subscriber: subscriber,
		prefix:     "garuda:authrecord:",
	}
}

// Load returns the stored record for subject, or nil when absent.
// Malformed content yields core.ErrCorruptRecord so callers can recover by
// clearing and re-authenticating instead of crashing.
func (s *RedisStore) Load(ctx context.Context, subject string) (*core.AuthRecord, error) {
	raw, err := s.client.Get(ctx, s.prefix+subject).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load auth record: %w", err)
	}

	var record core.AuthRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCorruptRecord, err)
	}

	return &record, nil
}

// Save shallow-merges update into the existing record, persists the result
// and publishes a change notification
func (s *RedisStore) Save(ctx context.Context, subject string, update core.AuthRecord) error {
	existing, err := s.Load(ctx, subject)
	if err != nil {
		if !errors.Is(err, core.ErrCorruptRecord) {
			return err
		}
		// A corrupt record is replaced wholesale rather than merged.
		existing = nil
	}

	merged := update
	if existing != nil {
		merged = existing.Merge(update)
	}

	payload, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal auth record: %w", err)
	}

	if err := s.client.Set(ctx, s.prefix+subject, payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to save auth record: %w", err)
	}

	return s.publishChange(subject)
}

// Clear removes the record and publishes a change notification
func (s *RedisStore) Clear(ctx context.Context, subject string) error {
	if err := s.client.Del(ctx, s.prefix+subject).Err(); err != nil {
		return fmt.Errorf("failed to clear auth record: %w", err)
	}

	return s.publishChange(subject)
}

// Subscribe relays change notifications from the Pub/Sub. Delivery is
// at-least-once; observers must be idempotent to duplicates.
func (s *RedisStore) Subscribe(ctx context.Context) (<-chan ports.ChangeEvent, error) {
	messages, err := s.subscriber.Subscribe(ctx, RecordChangedTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to change topic: %w", err)
	}

	ch := make(chan ports.ChangeEvent, 16)
	go func() {
		defer close(ch)
		for msg := range messages {
			subject := string(msg.Payload)
			msg.Ack()

			select {
			case ch <- ports.ChangeEvent{Subject: subject}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

func (s *RedisStore) publishChange(subject string) error {
	msg := message.NewMessage(uuid.New().String(), []byte(subject))
	if err := s.publisher.Publish(RecordChangedTopic, msg); err != nil {
		return fmt.Errorf("failed to publish change notification: %w", err)
	}
	return nil
}
