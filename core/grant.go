package core

// CapabilitySelection is one capability the user ticked on the consent form,
// with the policy guarding it and the parameters the policy form collected.
// A selection only reaches a grant after its form validated.
type CapabilitySelection struct {
	CapabilityID string         `json:"capability_id"`
	PolicyID     string         `json:"policy_id"`
	PolicyParams map[string]any `json:"policy_params,omitempty"`
}

// PermissionGrant is one submission against the registry. Ephemeral: built
// per attempt, never persisted; the durable counterpart lives on chain.
type PermissionGrant struct {
	AppID      uint64
	AppVersion uint64
	AgentKey   KeyRef
	Selections []CapabilitySelection
}

// CapabilityIDs returns the capability identifiers of the selections, in
// selection order.
func (g PermissionGrant) CapabilityIDs() []string {
	ids := make([]string, 0, len(g.Selections))
	for _, sel := range g.Selections {
		ids = append(ids, sel.CapabilityID)
	}
	return ids
}

// App is registry metadata for an application.
type App struct {
	ID            uint64
	Name          string
	LatestVersion uint64
	RedirectURIs  []string
}

// AuthorizesRedirect reports whether uri is one of the application's
// registered redirect targets. Exact string match; no normalization.
func (a App) AuthorizesRedirect(uri string) bool {
	for _, registered := range a.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// GrantState names the orchestrator's states. Transitions are driven by a
// single Run call; there is one submitter per session so sequencing alone
// enforces ordering.
type GrantState string

const (
	GrantStateIdle           GrantState = "idle"
	GrantStateValidating     GrantState = "validating_forms"
	GrantStateEnsuringCaps   GrantState = "ensuring_capabilities"
	GrantStateSubmitting     GrantState = "submitting_grant"
	GrantStateRecoveringRate GrantState = "recovering_from_rate_limit"
	GrantStateSucceeded      GrantState = "grant_succeeded"
	GrantStateFailed         GrantState = "grant_failed"
)
