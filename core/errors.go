package core

import (
	"errors"
	"strings"
)

var (
	// ErrUserCancelled means the user dismissed or rejected the method's
	// prompt. Callers must treat it as a silent no-op, never as a failure.
	ErrUserCancelled = errors.New("authentication cancelled by user")

	// ErrValidationFailed means a policy form rejected its parameters
	// before anything was submitted.
	ErrValidationFailed = errors.New("policy form validation failed")

	// ErrProviderRateLimited means a provider or the relay refused the
	// request due to rate limiting.
	ErrProviderRateLimited = errors.New("provider rate limited")

	// ErrInsufficientFunds means the signing account cannot pay for the
	// transaction. Terminal; surfaced with a funding remediation hint.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrRedirectURIUnauthorized means the requested redirect target is not
	// registered for the application. Fails closed before any token exists.
	ErrRedirectURIUnauthorized = errors.New("redirect uri not authorized for application")

	// ErrTransactionFailed is a terminal on-chain submission failure.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrSessionInvalid means the session credential no longer validates
	// and the full auth record must be cleared.
	ErrSessionInvalid = errors.New("session credential invalid")

	// ErrInvalidCredential covers bad OTP codes, signatures and assertions.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrNetworkFailure covers transport-level provider failures.
	ErrNetworkFailure = errors.New("network failure")

	// ErrCorruptRecord is returned when a stored auth record cannot be
	// decoded. Recoverable: callers clear and re-authenticate.
	ErrCorruptRecord = errors.New("stored auth record is corrupt")

	ErrTokenExpired     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidChallenge = errors.New("invalid challenge")
)

// cancelPatterns are provider error fragments that indicate the user backed
// out rather than a genuine failure. Substring matching is a stopgap for
// providers without structured codes; it lives here and nowhere else.
var cancelPatterns = []string{
	"timed out",
	"not allowed",
	"cancelled",
	"canceled",
	"abort",
}

// ClassifyProviderError maps a raw provider error onto the taxonomy. Errors
// already carrying a sentinel pass through unchanged.
func ClassifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		ErrUserCancelled, ErrProviderRateLimited, ErrInsufficientFunds,
		ErrInvalidCredential, ErrNetworkFailure, ErrTransactionFailed,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range cancelPatterns {
		if strings.Contains(msg, p) {
			return ErrUserCancelled
		}
	}
	switch {
	case strings.Contains(msg, "rate limit exceeded"):
		return ErrProviderRateLimited
	case strings.Contains(msg, "insufficient funds"):
		return ErrInsufficientFunds
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "network"):
		return ErrNetworkFailure
	}
	return err
}

// IsRateLimited reports whether err is attributable to rate limiting,
// including unclassified errors whose text says so.
func IsRateLimited(err error) bool {
	return errors.Is(ClassifyProviderError(err), ErrProviderRateLimited)
}
