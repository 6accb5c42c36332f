package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/layer-3/garuda/adapters/passkey"
	"github.com/layer-3/garuda/core"
	"github.com/layer-3/garuda/internal/eth"
	"github.com/layer-3/garuda/ports"
)

// PasskeyVerifier finishes a passkey assertion ceremony.
type PasskeyVerifier interface {
	FinishAssertion(ctx context.Context, sessionToken string, r *http.Request) (*passkey.User, error)
}

var otpCodePattern = regexp.MustCompile(`^[0-9]{6}$`)

// Authenticator is a uniform facade over the interchangeable authentication
// methods. It normalizes provider errors into the shared taxonomy and never
// touches the credential store; persisting results is the caller's job.
type Authenticator struct {
	tokenizer ports.Tokenizer
	otp       ports.OTPProvider
	passkeys  PasskeyVerifier
	log       zerolog.Logger

	challengeTTL time.Duration
}

// NewAuthenticator creates a new multi-method authenticator
func NewAuthenticator(tokenizer ports.Tokenizer, otp ports.OTPProvider, passkeys PasskeyVerifier, log zerolog.Logger) *Authenticator {
	return &Authenticator{
		tokenizer:    tokenizer,
		otp:          otp,
		passkeys:     passkeys,
		log:          log.With().Str("component", "authenticator").Logger(),
		challengeTTL: 5 * time.Minute,
	}
}

// ChallengeForWallet generates a challenge token the wallet must sign
func (a *Authenticator) ChallengeForWallet(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", core.ErrInvalidChallenge
	}

	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := time.Now()
	challenge := &core.WalletChallenge{
		ID:        uuid.New().String(),
		Address:   common.HexToAddress(address).Hex(),
		Nonce:     hex.EncodeToString(nonceBytes),
		IssuedAt:  now,
		ExpiresAt: now.Add(a.challengeTTL),
	}

	token, err := a.tokenizer.ChallengeToToken(challenge)
	if err != nil {
		return "", fmt.Errorf("failed to create challenge token: %w", err)
	}

	return token, nil
}

// AuthenticateWithWalletSignature verifies a signed challenge. An empty
// signature means the user rejected the prompt in their wallet; that is a
// cancellation, not a failure.
func (a *Authenticator) AuthenticateWithWalletSignature(ctx context.Context, challengeToken, signature, address string) (core.AuthMethodResult, error) {
	if signature == "" {
		return core.AuthMethodResult{}, core.ErrUserCancelled
	}

	challenge, err := a.tokenizer.TokenToChallenge(challengeToken)
	if err != nil {
		return core.AuthMethodResult{}, fmt.Errorf("invalid challenge token: %w", err)
	}

	if time.Now().After(challenge.ExpiresAt) {
		return core.AuthMethodResult{}, core.ErrTokenExpired
	}

	if !common.IsHexAddress(address) || common.HexToAddress(address).Hex() != challenge.Address {
		return core.AuthMethodResult{}, fmt.Errorf("%w: address mismatch", core.ErrInvalidSignature)
	}

	decodedSig, err := hexutil.Decode(signature)
	if err != nil {
		return core.AuthMethodResult{}, fmt.Errorf("%w: malformed signature", core.ErrInvalidSignature)
	}

	verified, err := eth.VerifyPersonalSignature(challenge.Nonce, decodedSig, common.HexToAddress(address))
	if err != nil {
		return core.AuthMethodResult{}, fmt.Errorf("signature verification failed: %w", err)
	}
	if !verified {
		return core.AuthMethodResult{}, core.ErrInvalidSignature
	}

	return core.AuthMethodResult{
		Method:      core.MethodWalletSignature,
		MethodValue: common.HexToAddress(address).Hex(),
	}, nil
}

// SendOTP asks the provider to deliver a passcode and returns the provider
// session token the verification step must present
func (a *Authenticator) SendOTP(ctx context.Context, channel, destination string) (string, error) {
	if channel != "email" && channel != "phone" {
		return "", fmt.Errorf("unsupported otp channel %q", channel)
	}
	if destination == "" {
		return "", fmt.Errorf("%w: empty destination", core.ErrInvalidCredential)
	}

	token, err := a.otp.SendCode(ctx, channel, destination)
	if err != nil {
		return "", core.ClassifyProviderError(err)
	}
	return token, nil
}

// AuthenticateWithOTP verifies a six-digit passcode against the provider
// session opened by SendOTP
func (a *Authenticator) AuthenticateWithOTP(ctx context.Context, sessionToken, userID, channel, code string) (core.AuthMethodResult, error) {
	if !otpCodePattern.MatchString(code) {
		return core.AuthMethodResult{}, fmt.Errorf("%w: code must be six digits", core.ErrInvalidCredential)
	}

	method := core.MethodEmailOTP
	if channel == "phone" {
		method = core.MethodPhoneOTP
	}

	externalID, err := a.otp.VerifyCode(ctx, sessionToken, userID, code)
	if err != nil {
		return core.AuthMethodResult{}, core.ClassifyProviderError(err)
	}

	return core.AuthMethodResult{
		Method:         method,
		MethodValue:    userID,
		ExternalUserID: externalID,
	}, nil
}

// AuthenticateWithPasskey finishes an assertion ceremony started by the
// passkey adapter. Provider errors that read like a dismissed prompt are
// classified as cancellation so the UI stays silent.
func (a *Authenticator) AuthenticateWithPasskey(ctx context.Context, sessionToken string, r *http.Request) (core.AuthMethodResult, error) {
	user, err := a.passkeys.FinishAssertion(ctx, sessionToken, r)
	if err != nil {
		classified := core.ClassifyProviderError(err)
		if errors.Is(classified, core.ErrUserCancelled) {
			a.log.Debug().Msg("passkey assertion cancelled by user")
		}
		return core.AuthMethodResult{}, classified
	}

	return core.AuthMethodResult{
		Method:         core.MethodPasskey,
		MethodValue:    user.Name,
		ExternalUserID: string(user.ID),
	}, nil
}
