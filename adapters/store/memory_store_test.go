package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/garuda/core"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	record := core.AuthRecord{
		Method:          core.MethodEmailOTP,
		AuthenticatedAt: time.Now().Truncate(time.Second),
		MethodValue:     "user@example.com",
		ExternalUserID:  "ext-1",
		PrimaryKey:      &core.KeyRef{TokenID: "1", PublicKey: "0x04aa", Address: "0xaa"},
	}

	require.NoError(t, s.Save(ctx, "user@example.com", record))

	got, err := s.Load(ctx, "user@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, record, *got)
}

func TestMemoryStore_LoadAbsent(t *testing.T) {
	s := NewMemoryStore()

	got, err := s.Load(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_MergeOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	updates := []core.AuthRecord{
		{Method: core.MethodEmailOTP, MethodValue: "user@example.com"},
		{PrimaryKey: &core.KeyRef{TokenID: "1", Address: "0xaa"}},
		{AgentKey: &core.KeyRef{TokenID: "2", Address: "0xbb"}},
		{Credential: "jwt-1"},
		{Credential: "jwt-2"}, // later update wins
	}
	for _, u := range updates {
		require.NoError(t, s.Save(ctx, "subject", u))
	}

	got, err := s.Load(ctx, "subject")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, core.MethodEmailOTP, got.Method)
	assert.Equal(t, "user@example.com", got.MethodValue)
	assert.Equal(t, "1", got.PrimaryKey.TokenID)
	assert.Equal(t, "2", got.AgentKey.TokenID)
	assert.Equal(t, "jwt-2", got.Credential)
}

func TestMemoryStore_SaveIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	update := core.AuthRecord{Method: core.MethodPasskey, MethodValue: "cred-id"}
	require.NoError(t, s.Save(ctx, "subject", update))
	require.NoError(t, s.Save(ctx, "subject", update))

	got, err := s.Load(ctx, "subject")
	require.NoError(t, err)
	assert.Equal(t, core.MethodPasskey, got.Method)
	assert.Equal(t, "cred-id", got.MethodValue)
}

func TestMemoryStore_ClearNotifiesObservers(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tab A and tab B both hold the session; A signs out, B re-reads.
	require.NoError(t, s.Save(ctx, "subject", core.AuthRecord{Method: core.MethodEmailOTP}))

	events, err := s.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx, "subject"))

	select {
	case ev := <-events:
		assert.Equal(t, "subject", ev.Subject)
	case <-time.After(time.Second):
		t.Fatal("expected a change notification")
	}

	got, err := s.Load(ctx, "subject")
	require.NoError(t, err)
	assert.Nil(t, got, "record must be absent after sign-out")
}

func TestMemoryStore_SubscribeClosesOnCancel(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	events, err := s.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, open := <-events:
		assert.False(t, open, "channel should be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
}

func TestMemoryStore_SnapshotIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "subject", core.AuthRecord{Method: core.MethodEmailOTP}))

	got, err := s.Load(ctx, "subject")
	require.NoError(t, err)

	// Mutating the snapshot must not leak back into the store.
	got.Method = core.MethodPasskey

	again, err := s.Load(ctx, "subject")
	require.NoError(t, err)
	assert.Equal(t, core.MethodEmailOTP, again.Method)
}
