package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/garuda/adapters/passkey"
	"github.com/layer-3/garuda/adapters/tokenizer"
	"github.com/layer-3/garuda/core"
	"github.com/layer-3/garuda/ports"
)

func testTokenizer(t *testing.T) ports.Tokenizer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return tokenizer.NewJWTTokenizer(key)
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// fakeRegistry is an in-memory AppRegistry that records call order and
// lets tests inject submission failures.
type fakeRegistry struct {
	mu sync.Mutex

	keysByOwner    map[string][]core.KeyRef
	appsByToken    map[string][]uint64
	actionsByToken map[string][]string
	capsByTokenApp map[string][]string
	versionByApp   map[string]uint64
	apps           map[uint64]*core.App

	submitErrs []error // consumed one per grant/regrant attempt
	callLog    []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		keysByOwner:    map[string][]core.KeyRef{},
		appsByToken:    map[string][]uint64{},
		actionsByToken: map[string][]string{},
		capsByTokenApp: map[string][]string{},
		versionByApp:   map[string]uint64{},
		apps:           map[uint64]*core.App{},
	}
}

func (f *fakeRegistry) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callLog = append(f.callLog, call)
}

func (f *fakeRegistry) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.callLog...)
}

func (f *fakeRegistry) OwnedKeys(ctx context.Context, owner string) ([]core.KeyRef, error) {
	f.record("OwnedKeys")
	return f.keysByOwner[owner], nil
}

func (f *fakeRegistry) PermittedApps(ctx context.Context, agent core.KeyRef) ([]uint64, error) {
	f.record("PermittedApps")
	return f.appsByToken[agent.TokenID], nil
}

func (f *fakeRegistry) PermittedActions(ctx context.Context, agent core.KeyRef) ([]string, error) {
	f.record("PermittedActions")
	return f.actionsByToken[agent.TokenID], nil
}

func (f *fakeRegistry) PermittedCapabilities(ctx context.Context, agent core.KeyRef, appID uint64) ([]string, error) {
	f.record("PermittedCapabilities")
	return f.capsByTokenApp[capKey(agent, appID)], nil
}

func (f *fakeRegistry) PermittedVersion(ctx context.Context, agent core.KeyRef, appID uint64) (uint64, error) {
	f.record("PermittedVersion")
	return f.versionByApp[capKey(agent, appID)], nil
}

func (f *fakeRegistry) AppMetadata(ctx context.Context, appID uint64) (*core.App, error) {
	f.record("AppMetadata")
	app, ok := f.apps[appID]
	if !ok {
		return nil, fmt.Errorf("app %d not found", appID)
	}
	return app, nil
}

func (f *fakeRegistry) RegisterPermittedAction(ctx context.Context, primary, agent core.KeyRef, capabilityID string) error {
	f.record("RegisterPermittedAction:" + capabilityID)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actionsByToken[agent.TokenID] = append(f.actionsByToken[agent.TokenID], capabilityID)
	return nil
}

func (f *fakeRegistry) RemovePermittedAction(ctx context.Context, primary, agent core.KeyRef, capabilityID string) error {
	f.record("RemovePermittedAction:" + capabilityID)
	return nil
}

func (f *fakeRegistry) GrantPermission(ctx context.Context, primary core.KeyRef, grant core.PermissionGrant) error {
	f.record("GrantPermission")
	return f.nextSubmitErr(grant)
}

func (f *fakeRegistry) RegrantPermission(ctx context.Context, primary core.KeyRef, grant core.PermissionGrant) error {
	f.record("RegrantPermission")
	return f.nextSubmitErr(grant)
}

func (f *fakeRegistry) nextSubmitErr(grant core.PermissionGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submitErrs) == 0 {
		f.versionByApp[capKey(grant.AgentKey, grant.AppID)] = grant.AppVersion
		return nil
	}
	err := f.submitErrs[0]
	f.submitErrs = f.submitErrs[1:]
	if err == nil {
		f.versionByApp[capKey(grant.AgentKey, grant.AppID)] = grant.AppVersion
	}
	return err
}

func capKey(agent core.KeyRef, appID uint64) string {
	return fmt.Sprintf("%s/%d", agent.TokenID, appID)
}

// fakeRelay is an in-memory KeyRelay.
type fakeRelay struct {
	mu sync.Mutex

	mintCounter int
	mintErr     error
	payeeErr    error
	payees      []string
	owner       string
}

func (f *fakeRelay) MintKey(ctx context.Context, owner string) (core.KeyRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mintErr != nil {
		return core.KeyRef{}, f.mintErr
	}
	f.mintCounter++
	return core.KeyRef{
		TokenID:   fmt.Sprintf("%d", 100+f.mintCounter),
		PublicKey: fmt.Sprintf("0x04minted%d", f.mintCounter),
		Address:   fmt.Sprintf("0xminted%d", f.mintCounter),
	}, nil
}

func (f *fakeRelay) OwnerAccount(ctx context.Context, method core.AuthMethod, externalUserID, methodValue string) (string, error) {
	if f.owner != "" {
		return f.owner, nil
	}
	return "0xderived-" + string(method), nil
}

func (f *fakeRelay) AddPayee(ctx context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payeeErr != nil {
		return f.payeeErr
	}
	f.payees = append(f.payees, address)
	return nil
}

func (f *fakeRelay) payeeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.payees...)
}

// fakeOTP is a programmable OTPProvider.
type fakeOTP struct {
	sessionToken string
	sendErr      error

	wantCode  string
	userID    string
	verifyErr error
}

func (f *fakeOTP) SendCode(ctx context.Context, channel, destination string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return f.sessionToken, nil
}

func (f *fakeOTP) VerifyCode(ctx context.Context, sessionToken, userID, code string) (string, error) {
	if f.verifyErr != nil {
		return "", f.verifyErr
	}
	if f.wantCode != "" && code != f.wantCode {
		return "", core.ErrInvalidCredential
	}
	return f.userID, nil
}

// fakePasskeys is a programmable PasskeyVerifier.
type fakePasskeys struct {
	user *passkey.User
	err  error
}

func (f *fakePasskeys) FinishAssertion(ctx context.Context, sessionToken string, r *http.Request) (*passkey.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

// stubChecker is a CredentialChecker with a fixed verdict.
type stubChecker struct {
	err error
}

func (s stubChecker) Validate(token string) error { return s.err }

// fakeEvents counts published events.
type fakeEvents struct {
	mu            sync.Mutex
	grantsUpdated int
}

func (f *fakeEvents) PublishRecordChanged(ctx context.Context, subject string) error { return nil }

func (f *fakeEvents) PublishGrantsUpdated(ctx context.Context, agentAddress string, appID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grantsUpdated++
	return nil
}

func (f *fakeEvents) grantsUpdatedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grantsUpdated
}
