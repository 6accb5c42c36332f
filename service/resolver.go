package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/layer-3/garuda/core"
	"github.com/layer-3/garuda/ports"
)

// IdentityResolver resolves or mints the user's primary key and the
// delegated agent keys that act on their behalf.
type IdentityResolver struct {
	registry ports.AppRegistry
	relay    ports.KeyRelay
	log      zerolog.Logger
}

// NewIdentityResolver creates a new identity resolver
func NewIdentityResolver(registry ports.AppRegistry, relay ports.KeyRelay, log zerolog.Logger) *IdentityResolver {
	return &IdentityResolver{
		registry: registry,
		relay:    relay,
		log:      log.With().Str("component", "resolver").Logger(),
	}
}

// OwnerAccount returns the account that owns keys for an authenticated
// method. Wallet users own keys directly; everyone else goes through the
// relay's derived custody account.
func (r *IdentityResolver) OwnerAccount(ctx context.Context, result core.AuthMethodResult) (string, error) {
	if result.Method == core.MethodWalletSignature {
		return result.MethodValue, nil
	}
	return r.relay.OwnerAccount(ctx, result.Method, result.ExternalUserID, result.MethodValue)
}

// ResolvePrimaryKeys returns every key associated with the authenticated
// method, in on-chain enumeration order. Zero keys is not an error: it
// means "new user" and the caller routes to account creation.
func (r *IdentityResolver) ResolvePrimaryKeys(ctx context.Context, result core.AuthMethodResult) ([]core.KeyRef, error) {
	owner, err := r.OwnerAccount(ctx, result)
	if err != nil {
		return nil, fmt.Errorf("resolve owner account: %w", err)
	}

	keys, err := r.registry.OwnedKeys(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("enumerate owned keys: %w", err)
	}
	return keys, nil
}

// DefaultPrimaryKey picks the sole key when exactly one exists, so the
// caller can skip the selection prompt.
func DefaultPrimaryKey(keys []core.KeyRef) (*core.KeyRef, bool) {
	if len(keys) != 1 {
		return nil, false
	}
	key := keys[0]
	return &key, true
}

// MintPrimaryKey mints a new primary key for the authenticated method
func (r *IdentityResolver) MintPrimaryKey(ctx context.Context, result core.AuthMethodResult) (core.KeyRef, error) {
	owner, err := r.OwnerAccount(ctx, result)
	if err != nil {
		return core.KeyRef{}, fmt.Errorf("resolve owner account: %w", err)
	}

	key, err := r.relay.MintKey(ctx, owner)
	if err != nil {
		return core.KeyRef{}, fmt.Errorf("mint primary key: %w", err)
	}

	r.log.Info().Str("owner", owner).Str("token_id", key.TokenID).Msg("minted primary key")
	return key, nil
}

// ResolveAgentKey finds the agent key to use for an application. An agent
// key already permitted for the app is authoritative; otherwise the first
// enumerated key with no permitted apps at all is reusable as the target
// for a fresh grant. Nil means no candidate exists and one must be minted.
//
// When several agent keys are permitted for the same app the first in
// enumeration order wins. That tie-break is deliberate and pinned by test;
// nothing defines multi-agent-per-app semantics beyond it.
func (r *IdentityResolver) ResolveAgentKey(ctx context.Context, owner string, primary core.KeyRef, appID uint64) (*core.KeyRef, error) {
	keys, err := r.registry.OwnedKeys(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("enumerate owned keys: %w", err)
	}

	var unpermitted *core.KeyRef
	for i := range keys {
		key := keys[i]
		if key.TokenID == primary.TokenID {
			continue
		}

		apps, err := r.registry.PermittedApps(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("query permitted apps for key %s: %w", key.TokenID, err)
		}

		for _, id := range apps {
			if id == appID {
				return &key, nil
			}
		}
		if len(apps) == 0 && unpermitted == nil {
			unpermitted = &key
		}
	}

	return unpermitted, nil
}

// MintAgentKey mints a new agent key delegated to the primary key
func (r *IdentityResolver) MintAgentKey(ctx context.Context, primary core.KeyRef) (core.KeyRef, error) {
	key, err := r.relay.MintKey(ctx, primary.Address)
	if err != nil {
		return core.KeyRef{}, fmt.Errorf("mint agent key: %w", err)
	}

	r.log.Info().Str("primary", primary.Address).Str("token_id", key.TokenID).Msg("minted agent key")
	return key, nil
}
