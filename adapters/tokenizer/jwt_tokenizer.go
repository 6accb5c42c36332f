package tokenizer

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/garuda/core"
	"github.com/layer-3/garuda/ports"
)

const AudienceChallenge = "garuda:challenge"
const AudienceCredential = "garuda:credential"

// JWTTokenizer implements the Tokenizer interface using JWT
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey) ports.Tokenizer {
	return &JWTTokenizer{signKey: signKey}
}

// ChallengeToToken converts a WalletChallenge to a JWT token
func (j *JWTTokenizer) ChallengeToToken(challenge *core.WalletChallenge) (string, error) {
	claims := ChallengeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   challenge.Address,
			ID:        challenge.ID,
			ExpiresAt: jwt.NewNumericDate(challenge.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(challenge.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceChallenge},
		},
		Nonce: challenge.Nonce,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign challenge token: %w", err)
	}

	return signedToken, nil
}

// TokenToChallenge converts a JWT token to a WalletChallenge
func (j *JWTTokenizer) TokenToChallenge(tokenStr string) (*core.WalletChallenge, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ChallengeClaims{}, j.keyFunc, jwt.WithAudience(AudienceChallenge))
	if err != nil {
		return nil, fmt.Errorf("failed to parse challenge token: %w", err)
	}

	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*ChallengeClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	challenge := &core.WalletChallenge{
		ID:        claims.ID,
		Address:   claims.Subject,
		Nonce:     claims.Nonce,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}

	return challenge, nil
}

// CredentialToToken converts a SessionCredential to a JWT token
func (j *JWTTokenizer) CredentialToToken(credential *core.SessionCredential) (string, error) {
	claims := CredentialClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   credential.Subject,
			ID:        credential.ID,
			ExpiresAt: jwt.NewNumericDate(credential.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(credential.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceCredential},
		},
		Abilities: credential.Abilities,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign credential token: %w", err)
	}

	return signedToken, nil
}

// TokenToCredential parses a session credential token
func (j *JWTTokenizer) TokenToCredential(tokenStr string) (*core.SessionCredential, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &CredentialClaims{}, j.keyFunc, jwt.WithAudience(AudienceCredential))
	if err != nil {
		return nil, fmt.Errorf("failed to parse credential token: %w", err)
	}

	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*CredentialClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	credential := &core.SessionCredential{
		ID:        claims.ID,
		Subject:   claims.Subject,
		Abilities: claims.Abilities,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}

	return credential, nil
}

// AssertionToToken signs a redirect assertion. The audience carries the
// application's full authorized redirect URI set so the consuming app can
// reject tokens presented to a URI the user never granted for.
func (j *JWTTokenizer) AssertionToToken(assertion *core.RedirectAssertion) (string, error) {
	claims := AssertionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   assertion.AgentAddress,
			ID:        strconv.FormatUint(assertion.AppID, 10) + ":" + strconv.FormatUint(assertion.AppVersion, 10),
			ExpiresAt: jwt.NewNumericDate(assertion.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(assertion.IssuedAt),
			Audience:  jwt.ClaimStrings(assertion.Audience),
		},
		AppID:      assertion.AppID,
		AppVersion: assertion.AppVersion,
		AuthMethod: string(assertion.Method),
		AgentKeyID: assertion.AgentKeyID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion token: %w", err)
	}

	return signedToken, nil
}

// keyFunc validates the signing method and returns the verification key
func (j *JWTTokenizer) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return &j.signKey.PublicKey, nil
}
