package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/layer-3/garuda/core"
	"github.com/layer-3/garuda/policy"
	"github.com/layer-3/garuda/ports"
)

// DefaultSubmitTimeout bounds a single grant submission round-trip,
// including waiting for the transaction to mine.
const DefaultSubmitTimeout = 2 * time.Minute

// StatusFunc receives state transitions so the UI can show which remote
// dependency is currently in flight instead of a generic spinner.
type StatusFunc func(state core.GrantState)

// GrantOrchestrator drives the permission-grant state machine:
//
//	Idle -> ValidatingForms -> EnsuringCapabilities -> SubmittingGrant
//	     -> GrantSucceeded
//	      | RecoveringFromRateLimit -> SubmittingGrant (exactly once)
//	      | GrantFailed
//
// There is one submitter per session, so ordering is enforced by plain
// sequencing rather than locking.
type GrantOrchestrator struct {
	registry  ports.AppRegistry
	relay     ports.KeyRelay
	validator *policy.Validator
	sessions  CredentialChecker
	events    ports.EventPublisher
	log       zerolog.Logger

	submitTimeout time.Duration
}

// NewGrantOrchestrator creates a new grant orchestrator
func NewGrantOrchestrator(
	registry ports.AppRegistry,
	relay ports.KeyRelay,
	validator *policy.Validator,
	sessions CredentialChecker,
	events ports.EventPublisher,
	log zerolog.Logger,
) *GrantOrchestrator {
	return &GrantOrchestrator{
		registry:      registry,
		relay:         relay,
		validator:     validator,
		sessions:      sessions,
		events:        events,
		log:           log.With().Str("component", "orchestrator").Logger(),
		submitTimeout: DefaultSubmitTimeout,
	}
}

// Run executes the full grant flow for one submission. Preconditions are
// enforced, not assumed: the session credential must validate and the
// agent key must be resolved before anything touches the chain. Each step
// wraps its errors with the step name so a registration failure is never
// mistaken for a submission failure.
func (o *GrantOrchestrator) Run(ctx context.Context, primary core.KeyRef, credentialToken string, grant core.PermissionGrant, status StatusFunc) error {
	if status == nil {
		status = func(core.GrantState) {}
	}

	if err := o.sessions.Validate(credentialToken); err != nil {
		return err
	}
	if grant.AgentKey.IsZero() {
		return fmt.Errorf("grant requires a resolved agent key")
	}
	if len(grant.Selections) == 0 {
		return fmt.Errorf("%w: no capabilities selected", core.ErrValidationFailed)
	}

	// ValidatingForms: all or nothing, no partial submission.
	status(core.GrantStateValidating)
	if err := o.validator.ValidateAll(grant.Selections); err != nil {
		status(core.GrantStateIdle)
		return err
	}

	status(core.GrantStateEnsuringCaps)
	if err := o.ensureCapabilities(ctx, primary, grant); err != nil {
		status(core.GrantStateFailed)
		return fmt.Errorf("ensure capabilities: %w", err)
	}

	status(core.GrantStateSubmitting)
	err := o.submit(ctx, primary, grant)
	if err != nil && core.IsRateLimited(err) {
		status(core.GrantStateRecoveringRate)
		if recoverErr := o.relay.AddPayee(ctx, primary.Address); recoverErr != nil {
			status(core.GrantStateFailed)
			return fmt.Errorf("funding recovery: %w", recoverErr)
		}

		o.log.Info().Str("primary", primary.Address).Msg("funded payer after rate limit, retrying grant once")
		status(core.GrantStateSubmitting)
		err = o.submit(ctx, primary, grant)
	}
	if err != nil {
		status(core.GrantStateFailed)
		return o.classifySubmitError(err, primary)
	}

	status(core.GrantStateSucceeded)

	// Exactly one invalidation of cached permitted-app views per run.
	if err := o.events.PublishGrantsUpdated(ctx, grant.AgentKey.Address, grant.AppID); err != nil {
		// The grant is on chain; a missed invalidation only delays the UI.
		o.log.Warn().Err(err).Msg("failed to publish grants.updated")
	}

	return nil
}

// ensureCapabilities registers every capability id implicated by the grant
// that is not yet a permitted action under the agent key. The implicated
// set is the union of the new selections and the capabilities already
// granted for this app, so earlier grants are never silently dropped.
// Registration is idempotent and must finish before submission: the
// registry rejects grants referencing unregistered capabilities.
func (o *GrantOrchestrator) ensureCapabilities(ctx context.Context, primary core.KeyRef, grant core.PermissionGrant) error {
	existing, err := o.registry.PermittedCapabilities(ctx, grant.AgentKey, grant.AppID)
	if err != nil {
		return fmt.Errorf("read granted capabilities: %w", err)
	}

	registered, err := o.registry.PermittedActions(ctx, grant.AgentKey)
	if err != nil {
		return fmt.Errorf("read permitted actions: %w", err)
	}
	isRegistered := make(map[string]bool, len(registered))
	for _, id := range registered {
		isRegistered[id] = true
	}

	implicated := append(grant.CapabilityIDs(), existing...)
	seen := make(map[string]bool, len(implicated))
	for _, id := range implicated {
		if seen[id] || isRegistered[id] {
			seen[id] = true
			continue
		}
		seen[id] = true

		if err := o.registry.RegisterPermittedAction(ctx, primary, grant.AgentKey, id); err != nil {
			return fmt.Errorf("register capability %s: %w", id, err)
		}
		o.log.Debug().Str("capability", id).Str("agent", grant.AgentKey.TokenID).Msg("registered permitted action")
	}

	return nil
}

// submit sends the grant transaction, choosing regrant when the app was
// granted before.
func (o *GrantOrchestrator) submit(ctx context.Context, primary core.KeyRef, grant core.PermissionGrant) error {
	ctx, cancel := context.WithTimeout(ctx, o.submitTimeout)
	defer cancel()

	version, err := o.registry.PermittedVersion(ctx, grant.AgentKey, grant.AppID)
	if err != nil {
		return fmt.Errorf("read permitted version: %w", err)
	}

	if version > 0 {
		if err := o.registry.RegrantPermission(ctx, primary, grant); err != nil {
			return fmt.Errorf("regrant permission: %w", err)
		}
		return nil
	}

	if err := o.registry.GrantPermission(ctx, primary, grant); err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}
	return nil
}

// classifySubmitError turns a terminal submission failure into something
// actionable. Insufficient funds gets its own message with a remediation
// pointer; everything else keeps the informative text it already carries.
func (o *GrantOrchestrator) classifySubmitError(err error, primary core.KeyRef) error {
	classified := core.ClassifyProviderError(err)
	if errors.Is(classified, core.ErrInsufficientFunds) {
		return fmt.Errorf("%w: top up the primary key account %s and try again", core.ErrInsufficientFunds, primary.Address)
	}
	if errors.Is(classified, core.ErrProviderRateLimited) {
		// Second rate limit after the single retry is terminal.
		return fmt.Errorf("%w: still rate limited after funding recovery", core.ErrTransactionFailed)
	}
	return fmt.Errorf("%w: %v", core.ErrTransactionFailed, err)
}
