package ports

import "context"

// EventPublisher publishes events to notify other instances.
type EventPublisher interface {
	// PublishRecordChanged notifies that a subject's auth record changed.
	PublishRecordChanged(ctx context.Context, subject string) error

	// PublishGrantsUpdated invalidates cached permitted-application views
	// for an agent key after a successful grant.
	PublishGrantsUpdated(ctx context.Context, agentAddress string, appID uint64) error
}
