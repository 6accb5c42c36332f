package passkey

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/layer-3/garuda/core"
)

// UserSource resolves passkey users and their registered credentials. The
// dashboard's account directory implements this.
type UserSource interface {
	// UserByHandle returns the user owning the credential, looked up by the
	// credential raw id and user handle from the assertion.
	UserByHandle(ctx context.Context, rawID, userHandle []byte) (*User, error)
}

// User is a passkey account with its registered credentials.
type User struct {
	ID          []byte
	Name        string
	DisplayName string
	Credentials []webauthn.Credential
}

// webAuthnUser adapts User to the webauthn.User interface.
type webAuthnUser struct {
	user *User
}

func (u *webAuthnUser) WebAuthnID() []byte { return u.user.ID }

func (u *webAuthnUser) WebAuthnName() string { return u.user.Name }

func (u *webAuthnUser) WebAuthnDisplayName() string {
	if u.user.DisplayName != "" {
		return u.user.DisplayName
	}
	return u.user.Name
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential { return u.user.Credentials }

// Authenticator runs discoverable-credential assertion ceremonies.
type Authenticator struct {
	web      *webauthn.WebAuthn
	sessions *sessionStore
	users    UserSource
}

// NewAuthenticator creates a passkey authenticator for the relying party
func NewAuthenticator(rpID, rpName string, origins []string, users UserSource) (*Authenticator, error) {
	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName: rpName,
		RPID:          rpID,
		RPOrigins:     origins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure webauthn: %w", err)
	}

	return &Authenticator{
		web:      web,
		sessions: newSessionStore(),
		users:    users,
	}, nil
}

// Close stops the session store's cleanup goroutine.
func (a *Authenticator) Close() {
	a.sessions.Close()
}

// BeginAssertion starts a usernameless assertion ceremony. The returned
// session token must come back with the finish request.
func (a *Authenticator) BeginAssertion(ctx context.Context) (*protocol.CredentialAssertion, string, error) {
	assertion, session, err := a.web.BeginDiscoverableLogin()
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin assertion: %w", err)
	}

	token := uuid.New().String()
	a.sessions.Set(token, session)

	return assertion, token, nil
}

// FinishAssertion validates the browser's assertion response and returns
// the authenticated user. The ceremony session is consumed either way.
func (a *Authenticator) FinishAssertion(ctx context.Context, sessionToken string, r *http.Request) (*User, error) {
	session, ok := a.sessions.Get(sessionToken)
	if !ok {
		return nil, fmt.Errorf("%w: unknown or expired ceremony session", core.ErrInvalidCredential)
	}
	a.sessions.Delete(sessionToken)

	var resolved *User
	handler := func(rawID, userHandle []byte) (webauthn.User, error) {
		user, err := a.users.UserByHandle(ctx, rawID, userHandle)
		if err != nil {
			return nil, err
		}
		resolved = user
		return &webAuthnUser{user: user}, nil
	}

	if _, err := a.web.FinishDiscoverableLogin(handler, *session, r); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidCredential, err)
	}

	return resolved, nil
}
