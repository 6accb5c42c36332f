package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/garuda/core"
)

func walletResult(address string) core.AuthMethodResult {
	return core.AuthMethodResult{Method: core.MethodWalletSignature, MethodValue: address}
}

func TestResolver_OwnerAccount(t *testing.T) {
	relay := &fakeRelay{}
	resolver := NewIdentityResolver(newFakeRegistry(), relay, testLogger())

	owner, err := resolver.OwnerAccount(context.Background(), walletResult("0xabc"))
	require.NoError(t, err)
	assert.Equal(t, "0xabc", owner, "wallet users own keys directly")

	owner, err = resolver.OwnerAccount(context.Background(), core.AuthMethodResult{
		Method:         core.MethodEmailOTP,
		MethodValue:    "alice@example.com",
		ExternalUserID: "ext-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xderived-email-otp", owner, "other methods go through the relay custody account")
}

func TestResolver_SoleKeyAutoSelect(t *testing.T) {
	registry := newFakeRegistry()
	registry.keysByOwner["0xowner"] = []core.KeyRef{
		{TokenID: "1", Address: "0xkey1"},
	}
	resolver := NewIdentityResolver(registry, &fakeRelay{}, testLogger())

	keys, err := resolver.ResolvePrimaryKeys(context.Background(), walletResult("0xowner"))
	require.NoError(t, err)
	require.Len(t, keys, 1)

	primary, ok := DefaultPrimaryKey(keys)
	require.True(t, ok)
	assert.Equal(t, "1", primary.TokenID)
}

func TestResolver_MultipleKeysRequireExplicitChoice(t *testing.T) {
	_, ok := DefaultPrimaryKey([]core.KeyRef{{TokenID: "1"}, {TokenID: "2"}})
	assert.False(t, ok)
}

func TestResolver_NoKeysMeansNewUser(t *testing.T) {
	resolver := NewIdentityResolver(newFakeRegistry(), &fakeRelay{}, testLogger())

	keys, err := resolver.ResolvePrimaryKeys(context.Background(), walletResult("0xnobody"))
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, ok := DefaultPrimaryKey(keys)
	assert.False(t, ok)
}

func TestResolver_MintPrimaryKey(t *testing.T) {
	relay := &fakeRelay{}
	resolver := NewIdentityResolver(newFakeRegistry(), relay, testLogger())

	key, err := resolver.MintPrimaryKey(context.Background(), walletResult("0xowner"))
	require.NoError(t, err)
	assert.False(t, key.IsZero())
}

func TestResolver_AgentKeyPermittedForApp(t *testing.T) {
	registry := newFakeRegistry()
	primary := core.KeyRef{TokenID: "1", Address: "0xprimary"}
	registry.keysByOwner["0xowner"] = []core.KeyRef{
		primary,
		{TokenID: "2", Address: "0xagent2"},
		{TokenID: "3", Address: "0xagent3"},
	}
	registry.appsByToken["2"] = []uint64{7}
	resolver := NewIdentityResolver(registry, &fakeRelay{}, testLogger())

	agent, err := resolver.ResolveAgentKey(context.Background(), "0xowner", primary, 7)
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.Equal(t, "2", agent.TokenID)
}

func TestResolver_AgentKeyUnpermittedFallback(t *testing.T) {
	registry := newFakeRegistry()
	primary := core.KeyRef{TokenID: "1", Address: "0xprimary"}
	registry.keysByOwner["0xowner"] = []core.KeyRef{
		primary,
		{TokenID: "2", Address: "0xagent2"},
		{TokenID: "3", Address: "0xagent3"},
	}
	registry.appsByToken["2"] = []uint64{7}
	resolver := NewIdentityResolver(registry, &fakeRelay{}, testLogger())

	// App 9 has no permitted agent; key 3 carries no grants so it is reusable.
	agent, err := resolver.ResolveAgentKey(context.Background(), "0xowner", primary, 9)
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.Equal(t, "3", agent.TokenID)
}

func TestResolver_AgentKeyTieBreakFirstEnumerated(t *testing.T) {
	registry := newFakeRegistry()
	primary := core.KeyRef{TokenID: "1", Address: "0xprimary"}
	registry.keysByOwner["0xowner"] = []core.KeyRef{
		primary,
		{TokenID: "2", Address: "0xagent2"},
		{TokenID: "3", Address: "0xagent3"},
	}
	registry.appsByToken["2"] = []uint64{7}
	registry.appsByToken["3"] = []uint64{7}
	resolver := NewIdentityResolver(registry, &fakeRelay{}, testLogger())

	agent, err := resolver.ResolveAgentKey(context.Background(), "0xowner", primary, 7)
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.Equal(t, "2", agent.TokenID, "first key in enumeration order wins")
}

func TestResolver_AgentKeyNoCandidate(t *testing.T) {
	registry := newFakeRegistry()
	primary := core.KeyRef{TokenID: "1", Address: "0xprimary"}
	registry.keysByOwner["0xowner"] = []core.KeyRef{
		primary,
		{TokenID: "2", Address: "0xagent2"},
	}
	registry.appsByToken["2"] = []uint64{5} // busy with another app
	resolver := NewIdentityResolver(registry, &fakeRelay{}, testLogger())

	agent, err := resolver.ResolveAgentKey(context.Background(), "0xowner", primary, 7)
	require.NoError(t, err)
	assert.Nil(t, agent, "nil signals the caller to mint a fresh agent key")

	minted, err := resolver.MintAgentKey(context.Background(), primary)
	require.NoError(t, err)
	assert.False(t, minted.IsZero())
}

func TestResolver_AgentKeyNeverReturnsPrimary(t *testing.T) {
	registry := newFakeRegistry()
	primary := core.KeyRef{TokenID: "1", Address: "0xprimary"}
	registry.keysByOwner["0xowner"] = []core.KeyRef{primary}
	registry.appsByToken["1"] = []uint64{7}
	resolver := NewIdentityResolver(registry, &fakeRelay{}, testLogger())

	agent, err := resolver.ResolveAgentKey(context.Background(), "0xowner", primary, 7)
	require.NoError(t, err)
	assert.Nil(t, agent)
}
