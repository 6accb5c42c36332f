package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/layer-3/garuda/core"
	"github.com/layer-3/garuda/ports"
)

// DefaultAssertionTTL is the redirect assertion validity window. Short on
// purpose: the assertion is single-use in intent.
const DefaultAssertionTTL = 30 * time.Minute

// AssertionIssuer builds and signs redirect assertions. The authorized
// redirect URI check is a security boundary: an unregistered target means
// no token is constructed at all.
type AssertionIssuer struct {
	tokenizer ports.Tokenizer
	sessions  CredentialChecker
	log       zerolog.Logger

	ttl time.Duration
}

// NewAssertionIssuer creates a new redirect assertion issuer
func NewAssertionIssuer(tokenizer ports.Tokenizer, sessions CredentialChecker, log zerolog.Logger) *AssertionIssuer {
	return &AssertionIssuer{
		tokenizer: tokenizer,
		sessions:  sessions,
		log:       log.With().Str("component", "issuer").Logger(),
		ttl:       DefaultAssertionTTL,
	}
}

// WithTTL overrides the assertion validity window
func (i *AssertionIssuer) WithTTL(ttl time.Duration) *AssertionIssuer {
	if ttl > 0 {
		i.ttl = ttl
	}
	return i
}

// Issue signs a redirect assertion and returns the full redirect URL with
// the assertion attached. It fails closed when redirectURI is not among
// the application's registered targets. The assertion's audience is the
// app's entire registered URI set and it is bound to the exact app id and
// version granted, so it cannot be replayed elsewhere.
func (i *AssertionIssuer) Issue(
	ctx context.Context,
	agent core.KeyRef,
	credentialToken string,
	app *core.App,
	appVersion uint64,
	record core.AuthRecord,
	redirectURI string,
) (string, error) {
	if err := i.sessions.Validate(credentialToken); err != nil {
		return "", err
	}

	if app == nil || len(app.RedirectURIs) == 0 {
		return "", fmt.Errorf("%w: application has no registered redirect URIs", core.ErrRedirectURIUnauthorized)
	}
	if !app.AuthorizesRedirect(redirectURI) {
		i.log.Warn().
			Uint64("app_id", app.ID).
			Str("requested", redirectURI).
			Msg("refusing redirect to unregistered URI")
		return "", fmt.Errorf("%w: %s is not registered for application %d", core.ErrRedirectURIUnauthorized, redirectURI, app.ID)
	}

	now := time.Now()
	assertion := &core.RedirectAssertion{
		AgentAddress: agent.Address,
		AgentKeyID:   agent.TokenID,
		AppID:        app.ID,
		AppVersion:   appVersion,
		Method:       record.Method,
		Audience:     app.RedirectURIs,
		IssuedAt:     now,
		ExpiresAt:    now.Add(i.ttl),
	}

	token, err := i.tokenizer.AssertionToToken(assertion)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}

	separator := "?"
	if strings.Contains(redirectURI, "?") {
		separator = "&"
	}
	return redirectURI + separator + "jwt=" + url.QueryEscape(token), nil
}
