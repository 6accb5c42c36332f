package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/layer-3/garuda/ports"
)

const (
	// RecordChangedTopic mirrors the credential store's change topic.
	RecordChangedTopic = "garuda.authrecord.changed"

	// GrantsUpdatedTopic invalidates cached permitted-application views.
	GrantsUpdatedTopic = "garuda.grants.updated"
)

// GrantsUpdatedEvent tells consumers which agent key's grants changed so
// they can drop the matching cache entry.
type GrantsUpdatedEvent struct {
	AgentAddress string `json:"agent_address"`
	AppID        uint64 `json:"app_id"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishRecordChanged publishes a credential-record change notification.
// The payload is just the subject; consumers re-read durable storage.
func (p *WatermillPublisher) PublishRecordChanged(ctx context.Context, subject string) error {
	msg := message.NewMessage(uuid.New().String(), []byte(subject))

	if err := p.publisher.Publish(RecordChangedTopic, msg); err != nil {
		return fmt.Errorf("failed to publish record change: %w", err)
	}

	return nil
}

// PublishGrantsUpdated publishes a grants-updated event for an agent key
func (p *WatermillPublisher) PublishGrantsUpdated(ctx context.Context, agentAddress string, appID uint64) error {
	event := GrantsUpdatedEvent{
		AgentAddress: agentAddress,
		AppID:        appID,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)

	if err := p.publisher.Publish(GrantsUpdatedTopic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
