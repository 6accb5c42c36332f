package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/garuda/adapters/store"
	"github.com/layer-3/garuda/core"
)

func TestSessionService_MaterializeAndValidate(t *testing.T) {
	memory := store.NewMemoryStore()
	sessions := NewSessionService(testTokenizer(t), memory, testLogger())
	primary := core.KeyRef{TokenID: "1", Address: "0xprimary"}

	token, err := sessions.Materialize(context.Background(), "subject-1", primary, core.AuthMethodResult{
		Method:      core.MethodEmailOTP,
		MethodValue: "alice@example.com",
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// Validation is deterministic: the same credential yields the same verdict.
	require.NoError(t, sessions.Validate(token))
	require.NoError(t, sessions.Validate(token))

	record, err := memory.Load(context.Background(), "subject-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, token, record.Credential)
	assert.Equal(t, core.MethodEmailOTP, record.Method)
	require.NotNil(t, record.PrimaryKey)
	assert.Equal(t, "0xprimary", record.PrimaryKey.Address)
	assert.False(t, record.AuthenticatedAt.IsZero())
}

func TestSessionService_ValidateRejectsGarbage(t *testing.T) {
	sessions := NewSessionService(testTokenizer(t), store.NewMemoryStore(), testLogger())

	assert.ErrorIs(t, sessions.Validate("not-a-token"), core.ErrSessionInvalid)
	assert.ErrorIs(t, sessions.Validate(""), core.ErrSessionInvalid)
}

func TestSessionService_ValidateRejectsForeignSigner(t *testing.T) {
	memory := store.NewMemoryStore()
	issuing := NewSessionService(testTokenizer(t), memory, testLogger())
	verifying := NewSessionService(testTokenizer(t), memory, testLogger())

	token, err := issuing.Materialize(context.Background(), "subject-1", core.KeyRef{TokenID: "1", Address: "0xprimary"}, core.AuthMethodResult{Method: core.MethodPasskey})
	require.NoError(t, err)

	assert.ErrorIs(t, verifying.Validate(token), core.ErrSessionInvalid)
}

func TestSessionService_ValidateRejectsExpired(t *testing.T) {
	memory := store.NewMemoryStore()
	sessions := NewSessionService(testTokenizer(t), memory, testLogger()).WithTTL(time.Nanosecond)

	token, err := sessions.Materialize(context.Background(), "subject-1", core.KeyRef{TokenID: "1", Address: "0xprimary"}, core.AuthMethodResult{Method: core.MethodPasskey})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	assert.ErrorIs(t, sessions.Validate(token), core.ErrSessionInvalid)
}

func TestSessionService_ValidateOrClear(t *testing.T) {
	memory := store.NewMemoryStore()
	sessions := NewSessionService(testTokenizer(t), memory, testLogger())
	primary := core.KeyRef{TokenID: "1", Address: "0xprimary"}

	_, err := sessions.Materialize(context.Background(), "subject-1", primary, core.AuthMethodResult{Method: core.MethodPasskey})
	require.NoError(t, err)

	record, err := sessions.ValidateOrClear(context.Background(), "subject-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "0xprimary", record.PrimaryKey.Address)
}

func TestSessionService_ValidateOrClearWipesWholeRecord(t *testing.T) {
	memory := store.NewMemoryStore()
	sessions := NewSessionService(testTokenizer(t), memory, testLogger())

	// A held key reference with a dud credential is an inconsistent state.
	require.NoError(t, memory.Save(context.Background(), "subject-1", core.AuthRecord{
		Method:     core.MethodPasskey,
		PrimaryKey: &core.KeyRef{TokenID: "1", Address: "0xprimary"},
		Credential: "tampered",
	}))

	_, err := sessions.ValidateOrClear(context.Background(), "subject-1")
	require.ErrorIs(t, err, core.ErrSessionInvalid)

	record, err := memory.Load(context.Background(), "subject-1")
	require.NoError(t, err)
	assert.Nil(t, record, "invalid credential clears the whole record")
}

func TestSessionService_ValidateOrClearMissingRecord(t *testing.T) {
	sessions := NewSessionService(testTokenizer(t), store.NewMemoryStore(), testLogger())

	_, err := sessions.ValidateOrClear(context.Background(), "ghost")
	assert.ErrorIs(t, err, core.ErrSessionInvalid)
}
