package ports

import (
	"context"

	"github.com/layer-3/garuda/core"
)

// AppRegistry is the on-chain registry of applications, keys and grants,
// consumed as a remote service. All writes are attributed to a signer
// derived from the primary key acting for the agent key.
type AppRegistry interface {
	// OwnedKeys enumerates key-pairs owned by an address, in on-chain
	// enumeration order. Zero keys is a valid result meaning "new user".
	OwnedKeys(ctx context.Context, owner string) ([]core.KeyRef, error)

	// PermittedApps returns the application ids an agent key currently has
	// permitted, in enumeration order.
	PermittedApps(ctx context.Context, agent core.KeyRef) ([]uint64, error)

	// PermittedActions returns every capability id registered as a
	// permitted action under the agent key, across all applications.
	PermittedActions(ctx context.Context, agent core.KeyRef) ([]string, error)

	// PermittedCapabilities returns the capability ids registered for an
	// agent key against one application.
	PermittedCapabilities(ctx context.Context, agent core.KeyRef, appID uint64) ([]string, error)

	// PermittedVersion returns the version an agent key is granted for an
	// application, or zero when none.
	PermittedVersion(ctx context.Context, agent core.KeyRef, appID uint64) (uint64, error)

	// AppMetadata returns registry metadata for an application, including
	// its authorized redirect URI set.
	AppMetadata(ctx context.Context, appID uint64) (*core.App, error)

	// RegisterPermittedAction registers a capability id as a permitted
	// action under the agent key. Idempotent: registering a capability that
	// is already permitted is a no-op on chain.
	RegisterPermittedAction(ctx context.Context, primary, agent core.KeyRef, capabilityID string) error

	// RemovePermittedAction removes a capability id from the agent key's
	// permitted actions.
	RemovePermittedAction(ctx context.Context, primary, agent core.KeyRef, capabilityID string) error

	// GrantPermission submits the permission grant for an application
	// version, signed by the primary key on behalf of the agent key.
	GrantPermission(ctx context.Context, primary core.KeyRef, grant core.PermissionGrant) error

	// RegrantPermission re-grants an application that was granted before,
	// moving the agent key to the requested version.
	RegrantPermission(ctx context.Context, primary core.KeyRef, grant core.PermissionGrant) error
}
