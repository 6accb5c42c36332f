package tokenizer

import "github.com/golang-jwt/jwt/v5"

// ChallengeClaims combines standard claims with wallet-challenge ones
type ChallengeClaims struct {
	jwt.RegisteredClaims
	Nonce string `json:"nonce"`
}

// CredentialClaims combines standard claims with session-credential ones
type CredentialClaims struct {
	jwt.RegisteredClaims
	Abilities []string `json:"abl"` // granted abilities for the subject key
}

// AssertionClaims carries the redirect assertion. The audience is the
// application's full registered redirect URI set, not just the one in use.
type AssertionClaims struct {
	jwt.RegisteredClaims
	AppID      uint64 `json:"app_id"`
	AppVersion uint64 `json:"app_version"`
	AuthMethod string `json:"auth_method"`
	AgentKeyID string `json:"agent_key_id"`
}
