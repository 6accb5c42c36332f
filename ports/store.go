package ports

import (
	"context"

	"github.com/layer-3/garuda/core"
)

// CredentialStore is the single source of truth for authentication state.
// Records are mutated only through Save and Clear; readers receive snapshots.
type CredentialStore interface {
	// Load returns the record for subject, or nil when none exists.
	// A record that exists but cannot be decoded yields core.ErrCorruptRecord.
	Load(ctx context.Context, subject string) (*core.AuthRecord, error)

	// Save shallow-merges update into the existing record (or an empty one)
	// and persists the result, then notifies subscribers.
	Save(ctx context.Context, subject string, update core.AuthRecord) error

	// Clear removes the record and notifies subscribers.
	Clear(ctx context.Context, subject string) error

	// Subscribe returns a channel of change notifications. Notifications
	// carry only the subject; observers must re-read the store. Delivery is
	// at-least-once, so observers must tolerate duplicates. The channel is
	// closed when ctx is done.
	Subscribe(ctx context.Context) (<-chan ChangeEvent, error)
}

// ChangeEvent signals that a subject's stored record changed. It carries no
// record payload on purpose: durable storage is the authority.
type ChangeEvent struct {
	Subject string
}
