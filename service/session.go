package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/layer-3/garuda/core"
	"github.com/layer-3/garuda/ports"
)

// DefaultSessionTTL bounds how long a materialized credential stays valid.
const DefaultSessionTTL = 24 * time.Hour

// DefaultMaterializeTimeout bounds the credential issuance round-trip.
const DefaultMaterializeTimeout = 30 * time.Second

// CredentialChecker validates a serialized session credential.
type CredentialChecker interface {
	Validate(token string) error
}

// SessionService materializes and validates session credentials. A
// credential is always derived fresh for its subject key, never reused
// across keys.
type SessionService struct {
	tokenizer ports.Tokenizer
	store     ports.CredentialStore
	log       zerolog.Logger

	ttl     time.Duration
	timeout time.Duration
}

// NewSessionService creates a new session service
func NewSessionService(tokenizer ports.Tokenizer, store ports.CredentialStore, log zerolog.Logger) *SessionService {
	return &SessionService{
		tokenizer: tokenizer,
		store:     store,
		log:       log.With().Str("component", "session").Logger(),
		ttl:       DefaultSessionTTL,
		timeout:   DefaultMaterializeTimeout,
	}
}

// WithTTL overrides the credential validity window
func (s *SessionService) WithTTL(ttl time.Duration) *SessionService {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// Materialize derives a session credential for the primary key and records
// it in the credential store as a durable checkpoint. The ability set is
// exactly the delegated-signing pair; nothing broader is ever requested.
func (s *SessionService) Materialize(ctx context.Context, subject string, primary core.KeyRef, result core.AuthMethodResult) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now()
	credential := &core.SessionCredential{
		ID:        uuid.New().String(),
		Subject:   primary.Address,
		Abilities: []string{core.AbilitySignDelegated, core.AbilityExecuteDelegated},
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	token, err := s.tokenizer.CredentialToToken(credential)
	if err != nil {
		return "", fmt.Errorf("failed to materialize credential: %w", err)
	}

	update := core.AuthRecord{
		Method:          result.Method,
		AuthenticatedAt: now,
		MethodValue:     result.MethodValue,
		ExternalUserID:  result.ExternalUserID,
		PrimaryKey:      &primary,
		Credential:      token,
	}
	if err := s.store.Save(ctx, subject, update); err != nil {
		return "", fmt.Errorf("failed to checkpoint auth record: %w", err)
	}

	s.log.Debug().Str("subject", primary.Address).Time("expires_at", credential.ExpiresAt).Msg("session credential materialized")
	return token, nil
}

// Credential parses and checks a serialized credential, returning its
// contents. The check is deterministic for a given credential and instant:
// parsing, audience, signing method, expiry and the ability set.
func (s *SessionService) Credential(token string) (*core.SessionCredential, error) {
	credential, err := s.tokenizer.TokenToCredential(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSessionInvalid, err)
	}

	if time.Now().After(credential.ExpiresAt) {
		return nil, fmt.Errorf("%w: expired", core.ErrSessionInvalid)
	}

	abilities := map[string]bool{}
	for _, ability := range credential.Abilities {
		abilities[ability] = true
	}
	if !abilities[core.AbilitySignDelegated] || !abilities[core.AbilityExecuteDelegated] {
		return nil, fmt.Errorf("%w: missing delegated abilities", core.ErrSessionInvalid)
	}

	return credential, nil
}

// Validate checks a serialized credential.
func (s *SessionService) Validate(token string) error {
	_, err := s.Credential(token)
	return err
}

// ValidateOrClear validates the credential held in the subject's record.
// An invalid credential clears the whole record, not just the credential:
// a held key reference without a valid credential is an inconsistent state.
func (s *SessionService) ValidateOrClear(ctx context.Context, subject string) (*core.AuthRecord, error) {
	record, err := s.store.Load(ctx, subject)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Credential == "" {
		return nil, core.ErrSessionInvalid
	}

	if err := s.Validate(record.Credential); err != nil {
		if clearErr := s.store.Clear(ctx, subject); clearErr != nil {
			s.log.Warn().Err(clearErr).Str("subject", subject).Msg("failed to clear invalid auth record")
		}
		return nil, err
	}

	return record, nil
}
