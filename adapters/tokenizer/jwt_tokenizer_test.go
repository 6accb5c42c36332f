package tokenizer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/garuda/core"
)

func newTokenizer(t *testing.T) *JWTTokenizer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return &JWTTokenizer{signKey: key}
}

func TestChallengeRoundTrip(t *testing.T) {
	tk := newTokenizer(t)

	now := time.Now().Truncate(time.Second)
	challenge := &core.WalletChallenge{
		ID:        "challenge-1",
		Address:   "0x00000000000000000000000000000000000000aa",
		Nonce:     "abc123",
		IssuedAt:  now,
		ExpiresAt: now.Add(5 * time.Minute),
	}

	token, err := tk.ChallengeToToken(challenge)
	require.NoError(t, err)

	got, err := tk.TokenToChallenge(token)
	require.NoError(t, err)
	assert.Equal(t, challenge.ID, got.ID)
	assert.Equal(t, challenge.Address, got.Address)
	assert.Equal(t, challenge.Nonce, got.Nonce)
	assert.WithinDuration(t, challenge.ExpiresAt, got.ExpiresAt, time.Second)
}

func TestCredentialRoundTrip(t *testing.T) {
	tk := newTokenizer(t)

	now := time.Now().Truncate(time.Second)
	credential := &core.SessionCredential{
		ID:        "cred-1",
		Subject:   "0x00000000000000000000000000000000000000bb",
		Abilities: []string{core.AbilitySignDelegated, core.AbilityExecuteDelegated},
		IssuedAt:  now,
		ExpiresAt: now.Add(24 * time.Hour),
	}

	token, err := tk.CredentialToToken(credential)
	require.NoError(t, err)

	got, err := tk.TokenToCredential(token)
	require.NoError(t, err)
	assert.Equal(t, credential.Subject, got.Subject)
	assert.Equal(t, credential.Abilities, got.Abilities)
}

func TestCredentialToken_RejectsWrongAudience(t *testing.T) {
	tk := newTokenizer(t)

	challenge := &core.WalletChallenge{
		ID:        "challenge-1",
		Address:   "0xcc",
		Nonce:     "n",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Minute),
	}
	token, err := tk.ChallengeToToken(challenge)
	require.NoError(t, err)

	// A challenge token must not be accepted as a session credential.
	_, err = tk.TokenToCredential(token)
	assert.Error(t, err)
}

func TestCredentialToken_RejectsExpired(t *testing.T) {
	tk := newTokenizer(t)

	credential := &core.SessionCredential{
		ID:        "cred-expired",
		Subject:   "0xdd",
		Abilities: []string{core.AbilitySignDelegated},
		IssuedAt:  time.Now().Add(-25 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	token, err := tk.CredentialToToken(credential)
	require.NoError(t, err)

	_, err = tk.TokenToCredential(token)
	assert.Error(t, err)
}

func TestCredentialToken_RejectsForeignKey(t *testing.T) {
	tk := newTokenizer(t)
	other := newTokenizer(t)

	credential := &core.SessionCredential{
		ID:        "cred-1",
		Subject:   "0xee",
		Abilities: []string{core.AbilitySignDelegated},
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	token, err := other.CredentialToToken(credential)
	require.NoError(t, err)

	_, err = tk.TokenToCredential(token)
	assert.Error(t, err)
}

func TestAssertionToToken_Claims(t *testing.T) {
	tk := newTokenizer(t)

	now := time.Now().Truncate(time.Second)
	assertion := &core.RedirectAssertion{
		AgentAddress: "0x00000000000000000000000000000000000000ff",
		AgentKeyID:   "7",
		AppID:        42,
		AppVersion:   3,
		Method:       core.MethodEmailOTP,
		Audience:     []string{"https://good.example/cb", "https://good.example/alt"},
		IssuedAt:     now,
		ExpiresAt:    now.Add(30 * time.Minute),
	}

	token, err := tk.AssertionToToken(assertion)
	require.NoError(t, err)

	parsed, err := jwt.ParseWithClaims(token, &AssertionClaims{}, func(tok *jwt.Token) (interface{}, error) {
		return &tk.signKey.PublicKey, nil
	})
	require.NoError(t, err)

	claims := parsed.Claims.(*AssertionClaims)
	assert.Equal(t, assertion.AgentAddress, claims.Subject)
	assert.Equal(t, uint64(42), claims.AppID)
	assert.Equal(t, uint64(3), claims.AppVersion)
	assert.Equal(t, "email-otp", claims.AuthMethod)
	assert.Equal(t, "7", claims.AgentKeyID)
	assert.ElementsMatch(t, assertion.Audience, []string(claims.Audience))
}
