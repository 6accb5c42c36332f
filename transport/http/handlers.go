package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/rs/zerolog"

	"github.com/layer-3/garuda/core"
	"github.com/layer-3/garuda/ports"
	"github.com/layer-3/garuda/service"
)

// PasskeyStarter begins a passkey assertion ceremony.
type PasskeyStarter interface {
	BeginAssertion(ctx context.Context) (*protocol.CredentialAssertion, string, error)
}

// Handlers contains HTTP handlers for the auth and grant endpoints
type Handlers struct {
	auth         *service.Authenticator
	resolver     *service.IdentityResolver
	sessions     *service.SessionService
	orchestrator *service.GrantOrchestrator
	issuer       *service.AssertionIssuer
	passkeys     PasskeyStarter
	registry     ports.AppRegistry
	store        ports.CredentialStore
	log          zerolog.Logger
}

// NewHandlers creates new handlers
func NewHandlers(
	auth *service.Authenticator,
	resolver *service.IdentityResolver,
	sessions *service.SessionService,
	orchestrator *service.GrantOrchestrator,
	issuer *service.AssertionIssuer,
	passkeys PasskeyStarter,
	registry ports.AppRegistry,
	store ports.CredentialStore,
	log zerolog.Logger,
) *Handlers {
	return &Handlers{
		auth:         auth,
		resolver:     resolver,
		sessions:     sessions,
		orchestrator: orchestrator,
		issuer:       issuer,
		passkeys:     passkeys,
		registry:     registry,
		store:        store,
		log:          log.With().Str("component", "http").Logger(),
	}
}

// keyResponse is the wire shape of a key reference
type keyResponse struct {
	TokenID   string `json:"token_id"`
	PublicKey string `json:"public_key"`
	Address   string `json:"address"`
}

func toKeyResponse(key core.KeyRef) keyResponse {
	return keyResponse{TokenID: key.TokenID, PublicKey: key.PublicKey, Address: key.Address}
}

// SendOTP handles the OTP delivery request
func (h *Handlers) SendOTP(c *gin.Context) {
	var req struct {
		Channel     string `json:"channel" binding:"required"`
		Destination string `json:"destination" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	sessionToken, err := h.auth.SendOTP(c.Request.Context(), req.Channel, req.Destination)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_token": sessionToken})
}

// VerifyOTP verifies a passcode and completes the login
func (h *Handlers) VerifyOTP(c *gin.Context) {
	var req struct {
		SessionToken string `json:"session_token" binding:"required"`
		UserID       string `json:"user_id" binding:"required"`
		Channel      string `json:"channel" binding:"required"`
		Code         string `json:"code" binding:"required"`
		KeyTokenID   string `json:"key_token_id"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result, err := h.auth.AuthenticateWithOTP(c.Request.Context(), req.SessionToken, req.UserID, req.Channel, req.Code)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	h.completeLogin(c, result, req.KeyTokenID)
}

// BeginPasskey starts a passkey assertion ceremony
func (h *Handlers) BeginPasskey(c *gin.Context) {
	assertion, sessionToken, err := h.passkeys.BeginAssertion(c.Request.Context())
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_token": sessionToken,
		"options":       assertion,
	})
}

// FinishPasskey validates the assertion response and completes the login.
// The browser posts the raw WebAuthn response body; the ceremony session
// token travels in the query string so the body stays untouched.
func (h *Handlers) FinishPasskey(c *gin.Context) {
	sessionToken := c.Query("session_token")
	if sessionToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing session token"})
		return
	}

	result, err := h.auth.AuthenticateWithPasskey(c.Request.Context(), sessionToken, c.Request)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	h.completeLogin(c, result, c.Query("key_token_id"))
}

// WalletChallenge handles the wallet challenge request
func (h *Handlers) WalletChallenge(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	token, err := h.auth.ChallengeForWallet(req.Address)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"challenge_token": token})
}

// VerifyWallet verifies a signed challenge and completes the login
func (h *Handlers) VerifyWallet(c *gin.Context) {
	var req struct {
		ChallengeToken string `json:"challenge_token" binding:"required"`
		Signature      string `json:"signature"`
		Address        string `json:"address" binding:"required"`
		KeyTokenID     string `json:"key_token_id"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result, err := h.auth.AuthenticateWithWalletSignature(c.Request.Context(), req.ChallengeToken, req.Signature, req.Address)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	h.completeLogin(c, result, req.KeyTokenID)
}

// completeLogin resolves the primary key for an authenticated method and
// materializes the session credential. A first-time user gets a key minted;
// a user with several keys must pick one explicitly.
func (h *Handlers) completeLogin(c *gin.Context, result core.AuthMethodResult, keyTokenID string) {
	ctx := c.Request.Context()

	keys, err := h.resolver.ResolvePrimaryKeys(ctx, result)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to resolve primary keys")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to resolve keys"})
		return
	}

	var primary *core.KeyRef
	newUser := false

	switch {
	case len(keys) == 0:
		minted, err := h.resolver.MintPrimaryKey(ctx, result)
		if err != nil {
			h.log.Error().Err(err).Msg("failed to mint primary key")
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to create account"})
			return
		}
		primary = &minted
		newUser = true
	case keyTokenID != "":
		for i := range keys {
			if keys[i].TokenID == keyTokenID {
				primary = &keys[i]
				break
			}
		}
		if primary == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown key"})
			return
		}
	default:
		if sole, ok := service.DefaultPrimaryKey(keys); ok {
			primary = sole
			break
		}

		// Several keys and no selection: ask the client to choose.
		choices := make([]keyResponse, 0, len(keys))
		for _, key := range keys {
			choices = append(choices, toKeyResponse(key))
		}
		c.JSON(http.StatusOK, gin.H{
			"requires_key_selection": true,
			"keys":                   choices,
		})
		return
	}

	credential, err := h.sessions.Materialize(ctx, primary.Address, *primary, result)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to materialize session credential")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"credential": credential,
		"token_type": "Bearer",
		"key":        toKeyResponse(*primary),
		"new_user":   newUser,
	})
}

// Me returns the authenticated user's record
func (h *Handlers) Me(c *gin.Context) {
	record, err := h.record(c)
	if err != nil {
		return
	}

	resp := gin.H{
		"method":           record.Method,
		"method_value":     record.MethodValue,
		"authenticated_at": record.AuthenticatedAt,
	}
	if record.PrimaryKey != nil {
		resp["primary_key"] = toKeyResponse(*record.PrimaryKey)
	}
	if record.AgentKey != nil {
		resp["agent_key"] = toKeyResponse(*record.AgentKey)
	}
	c.JSON(http.StatusOK, resp)
}

// ListKeys enumerates the keys owned by the authenticated user's account
func (h *Handlers) ListKeys(c *gin.Context) {
	record, err := h.record(c)
	if err != nil {
		return
	}

	keys, err := h.resolver.ResolvePrimaryKeys(c.Request.Context(), record.MethodResult())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to enumerate keys"})
		return
	}

	resp := make([]keyResponse, 0, len(keys))
	for _, key := range keys {
		resp = append(resp, toKeyResponse(key))
	}
	c.JSON(http.StatusOK, gin.H{"keys": resp})
}

// MintAgentKey mints a fresh agent key delegated to the primary key
func (h *Handlers) MintAgentKey(c *gin.Context) {
	record, err := h.record(c)
	if err != nil {
		return
	}
	if record.PrimaryKey == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "No primary key on record"})
		return
	}

	key, err := h.resolver.MintAgentKey(c.Request.Context(), *record.PrimaryKey)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to mint agent key"})
		return
	}

	if err := h.store.Save(c.Request.Context(), c.GetString(contextSubject), core.AuthRecord{AgentKey: &key}); err != nil {
		h.log.Warn().Err(err).Msg("failed to checkpoint minted agent key")
	}

	c.JSON(http.StatusOK, gin.H{"key": toKeyResponse(key)})
}

// App returns the registry metadata for an application
func (h *Handlers) App(c *gin.Context) {
	appID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid application id"})
		return
	}

	app, err := h.registry.AppMetadata(c.Request.Context(), appID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Application not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":             app.ID,
		"name":           app.Name,
		"latest_version": app.LatestVersion,
		"redirect_uris":  app.RedirectURIs,
	})
}

// AppAgent resolves the agent key to use for an application
func (h *Handlers) AppAgent(c *gin.Context) {
	appID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid application id"})
		return
	}

	record, err := h.record(c)
	if err != nil {
		return
	}
	if record.PrimaryKey == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "No primary key on record"})
		return
	}

	owner, err := h.resolver.OwnerAccount(c.Request.Context(), record.MethodResult())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to resolve owner account"})
		return
	}

	agent, err := h.resolver.ResolveAgentKey(c.Request.Context(), owner, *record.PrimaryKey, appID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to resolve agent key"})
		return
	}
	if agent == nil {
		c.JSON(http.StatusOK, gin.H{"key": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"key": toKeyResponse(*agent)})
}

// grantRequest is the wire shape of a grant submission
type grantRequest struct {
	AppID      uint64 `json:"app_id" binding:"required"`
	AppVersion uint64 `json:"app_version"`
	Selections []struct {
		CapabilityID string         `json:"capability_id" binding:"required"`
		PolicyID     string         `json:"policy_id" binding:"required"`
		PolicyParams map[string]any `json:"policy_params"`
	} `json:"selections" binding:"required"`
}

// SubmitGrant runs the full grant flow for one submission
func (h *Handlers) SubmitGrant(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	record, err := h.record(c)
	if err != nil {
		return
	}
	if record.PrimaryKey == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "No primary key on record"})
		return
	}

	ctx := c.Request.Context()
	agent, appVersion, err := h.prepareGrant(ctx, record, req.AppID, req.AppVersion)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	grant := core.PermissionGrant{
		AppID:      req.AppID,
		AppVersion: appVersion,
		AgentKey:   agent,
	}
	for _, sel := range req.Selections {
		grant.Selections = append(grant.Selections, core.CapabilitySelection{
			CapabilityID: sel.CapabilityID,
			PolicyID:     sel.PolicyID,
			PolicyParams: sel.PolicyParams,
		})
	}

	var states []core.GrantState
	runErr := h.orchestrator.Run(ctx, *record.PrimaryKey, c.GetString(contextCredential), grant, func(state core.GrantState) {
		states = append(states, state)
	})
	if runErr != nil {
		h.respondGrantError(c, runErr, states)
		return
	}

	if err := h.store.Save(ctx, c.GetString(contextSubject), core.AuthRecord{AgentKey: &agent}); err != nil {
		h.log.Warn().Err(err).Msg("failed to checkpoint granted agent key")
	}

	c.JSON(http.StatusOK, gin.H{
		"state":  core.GrantStateSucceeded,
		"states": states,
		"agent":  toKeyResponse(agent),
	})
}

// prepareGrant resolves the agent key and target version for a submission,
// minting a fresh agent key when no reusable one exists.
func (h *Handlers) prepareGrant(ctx context.Context, record *core.AuthRecord, appID, appVersion uint64) (core.KeyRef, uint64, error) {
	if appVersion == 0 {
		app, err := h.registry.AppMetadata(ctx, appID)
		if err != nil {
			return core.KeyRef{}, 0, errors.New("failed to read application metadata")
		}
		appVersion = app.LatestVersion
	}

	owner, err := h.resolver.OwnerAccount(ctx, record.MethodResult())
	if err != nil {
		return core.KeyRef{}, 0, errors.New("failed to resolve owner account")
	}

	agent, err := h.resolver.ResolveAgentKey(ctx, owner, *record.PrimaryKey, appID)
	if err != nil {
		return core.KeyRef{}, 0, errors.New("failed to resolve agent key")
	}
	if agent == nil {
		minted, err := h.resolver.MintAgentKey(ctx, *record.PrimaryKey)
		if err != nil {
			return core.KeyRef{}, 0, errors.New("failed to mint agent key")
		}
		agent = &minted
	}

	return *agent, appVersion, nil
}

// Redirect issues a signed redirect assertion for an application
func (h *Handlers) Redirect(c *gin.Context) {
	var req struct {
		AppID       uint64 `json:"app_id" binding:"required"`
		AppVersion  uint64 `json:"app_version"`
		RedirectURI string `json:"redirect_uri" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	record, err := h.record(c)
	if err != nil {
		return
	}
	if record.AgentKey == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "No agent key on record; submit a grant first"})
		return
	}

	app, err := h.registry.AppMetadata(c.Request.Context(), req.AppID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Application not found"})
		return
	}

	appVersion := req.AppVersion
	if appVersion == 0 {
		appVersion = app.LatestVersion
	}

	redirect, err := h.issuer.Issue(c.Request.Context(), *record.AgentKey, c.GetString(contextCredential), app, appVersion, *record, req.RedirectURI)
	if err != nil {
		if errors.Is(err, core.ErrRedirectURIUnauthorized) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Redirect URI is not registered for this application"})
			return
		}
		if errors.Is(err, core.ErrSessionInvalid) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credential"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue redirect"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"redirect_url": redirect})
}

// Logout clears the authenticated user's record
func (h *Handlers) Logout(c *gin.Context) {
	if err := h.store.Clear(c.Request.Context(), c.GetString(contextSubject)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to logout"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// record loads and validates the auth record for the authenticated subject.
// It writes the response on failure.
func (h *Handlers) record(c *gin.Context) (*core.AuthRecord, error) {
	record, err := h.sessions.ValidateOrClear(c.Request.Context(), c.GetString(contextSubject))
	if err != nil {
		if errors.Is(err, core.ErrSessionInvalid) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Session is no longer valid"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		}
		return nil, err
	}
	return record, nil
}

// respondAuthError maps authentication errors to status codes. A user
// cancellation is not an error condition: the client gets an empty 204 and
// shows nothing.
func (h *Handlers) respondAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrUserCancelled):
		c.Status(http.StatusNoContent)
	case errors.Is(err, core.ErrInvalidChallenge), errors.Is(err, core.ErrInvalidToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid challenge token"})
	case errors.Is(err, core.ErrTokenExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Challenge token expired"})
	case errors.Is(err, core.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
	case errors.Is(err, core.ErrInvalidCredential):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credential"})
	case errors.Is(err, core.ErrProviderRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Provider rate limited, try again later"})
	case errors.Is(err, core.ErrNetworkFailure):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Provider unavailable"})
	default:
		h.log.Error().Err(err).Msg("authentication failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
	}
}

// respondGrantError maps grant flow errors to status codes and reports the
// state transitions observed so far.
func (h *Handlers) respondGrantError(c *gin.Context, err error, states []core.GrantState) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrSessionInvalid):
		status = http.StatusUnauthorized
	case errors.Is(err, core.ErrValidationFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, core.ErrProviderRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, core.ErrTransactionFailed), errors.Is(err, core.ErrNetworkFailure):
		status = http.StatusBadGateway
	}

	c.JSON(status, gin.H{
		"error":  err.Error(),
		"states": states,
	})
}
