package ports

import "github.com/layer-3/garuda/core"

// Tokenizer converts between domain objects and signed tokens.
type Tokenizer interface {
	// Wallet challenge token operations
	ChallengeToToken(challenge *core.WalletChallenge) (string, error)
	TokenToChallenge(token string) (*core.WalletChallenge, error)

	// Session credential operations
	CredentialToToken(credential *core.SessionCredential) (string, error)
	TokenToCredential(token string) (*core.SessionCredential, error)

	// Redirect assertion operations
	AssertionToToken(assertion *core.RedirectAssertion) (string, error)
}
