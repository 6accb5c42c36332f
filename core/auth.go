package core

import "time"

// AuthMethod identifies how the user proved control of their account.
type AuthMethod string

const (
	MethodEmailOTP        AuthMethod = "email-otp"
	MethodPhoneOTP        AuthMethod = "phone-otp"
	MethodWalletSignature AuthMethod = "wallet-signature"
	MethodPasskey         AuthMethod = "passkey"
)

// Valid reports whether m is one of the supported authentication methods.
func (m AuthMethod) Valid() bool {
	switch m {
	case MethodEmailOTP, MethodPhoneOTP, MethodWalletSignature, MethodPasskey:
		return true
	}
	return false
}

// AuthMethodResult is the normalized outcome of a successful authentication,
// independent of which provider produced it.
type AuthMethodResult struct {
	Method         AuthMethod        // method that succeeded
	MethodValue    string            // email address, phone number or wallet address used
	ExternalUserID string            // provider-side user identifier, if any
	Metadata       map[string]string // provider-specific extras, opaque to callers
}

// KeyRef references a minted key-pair. Immutable once minted.
type KeyRef struct {
	TokenID   string `json:"token_id"`   // registry token id, decimal string
	PublicKey string `json:"public_key"` // uncompressed public key, hex
	Address   string `json:"address"`    // Ethereum address derived from the key
}

// IsZero reports whether the reference is empty.
func (k KeyRef) IsZero() bool {
	return k.TokenID == "" && k.PublicKey == "" && k.Address == ""
}

// AuthRecord is the durable record of an authenticated user. It is owned
// exclusively by the credential store; everything else receives snapshots.
type AuthRecord struct {
	Method          AuthMethod `json:"method"`
	AuthenticatedAt time.Time  `json:"authenticated_at"`
	MethodValue     string     `json:"method_value,omitempty"`
	ExternalUserID  string     `json:"external_user_id,omitempty"`
	PrimaryKey      *KeyRef    `json:"primary_key,omitempty"`
	AgentKey        *KeyRef    `json:"agent_key,omitempty"`
	Credential      string     `json:"credential,omitempty"` // serialized session credential
}

// Merge applies non-zero fields of update onto a copy of r, shallow-merge
// semantics: later updates win field by field, absent fields keep earlier
// values.
func (r AuthRecord) Merge(update AuthRecord) AuthRecord {
	out := r
	if update.Method != "" {
		out.Method = update.Method
	}
	if !update.AuthenticatedAt.IsZero() {
		out.AuthenticatedAt = update.AuthenticatedAt
	}
	if update.MethodValue != "" {
		out.MethodValue = update.MethodValue
	}
	if update.ExternalUserID != "" {
		out.ExternalUserID = update.ExternalUserID
	}
	if update.PrimaryKey != nil {
		out.PrimaryKey = update.PrimaryKey
	}
	if update.AgentKey != nil {
		out.AgentKey = update.AgentKey
	}
	if update.Credential != "" {
		out.Credential = update.Credential
	}
	return out
}

// MethodResult reconstructs the authentication result the record was
// checkpointed from, for callers that re-derive owner accounts.
func (r AuthRecord) MethodResult() AuthMethodResult {
	return AuthMethodResult{
		Method:         r.Method,
		MethodValue:    r.MethodValue,
		ExternalUserID: r.ExternalUserID,
	}
}

// WalletChallenge is a nonce the wallet must sign to prove address control.
type WalletChallenge struct {
	ID        string    // unique identifier for the challenge
	Address   string    // Ethereum address expected to sign
	Nonce     string    // random nonce to be signed
	IssuedAt  time.Time // when the challenge was created
	ExpiresAt time.Time // when the challenge expires
}

// SessionCredential is an authorized session bound to a single subject key
// and a fixed ability set. It is derived, never reused across keys.
type SessionCredential struct {
	ID        string    // unique credential identifier
	Subject   string    // address of the key the credential is scoped to
	Abilities []string  // granted abilities, exactly the delegated-signing pair
	IssuedAt  time.Time // when the credential was issued
	ExpiresAt time.Time // when the credential expires
}

// Abilities a session credential may carry. Scoping is deliberately narrow:
// a credential authorizes delegated signing for its subject key and nothing
// broader.
const (
	AbilitySignDelegated    = "sign-delegated"
	AbilityExecuteDelegated = "execute-delegated"
)
