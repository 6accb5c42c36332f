package ports

import (
	"context"

	"github.com/layer-3/garuda/core"
)

// KeyRelay is the remote service that mints key-pairs and funds payers.
type KeyRelay interface {
	// MintKey mints a fresh key-pair owned by owner. When owner is empty
	// the relay assigns ownership to the authenticated account it derives
	// from the request.
	MintKey(ctx context.Context, owner string) (core.KeyRef, error)

	// OwnerAccount derives the deterministic custody account for an
	// authenticated method, so key ownership can be enumerated for users
	// who have no wallet of their own.
	OwnerAccount(ctx context.Context, method core.AuthMethod, externalUserID, methodValue string) (string, error)

	// AddPayee registers an address with the payer service so its
	// transactions are sponsored. Success gates the grant retry after a
	// rate-limited failure.
	AddPayee(ctx context.Context, address string) error
}

// OTPProvider issues and verifies one-time passcodes over email or phone.
type OTPProvider interface {
	// SendCode sends a passcode to destination over the given channel
	// ("email" or "phone") and returns the provider session token the
	// verification step must present.
	SendCode(ctx context.Context, channel, destination string) (sessionToken string, err error)

	// VerifyCode checks a six-digit code against the session and returns
	// the provider's external user id.
	VerifyCode(ctx context.Context, sessionToken, userID, code string) (externalUserID string, err error)
}
