package passkey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/garuda/core"
)

// RedisUserSource resolves passkey users from Redis. Records are written by
// the enrollment flow and read here during assertion ceremonies.
type RedisUserSource struct {
	client *redis.Client
	prefix string
}

// NewRedisUserSource creates a Redis-backed passkey user source
func NewRedisUserSource(client *redis.Client) *RedisUserSource {
	return &RedisUserSource{
		client: client,
		prefix: "garuda:passkey:user:",
	}
}

// storedUser is the persisted shape of a passkey user.
type storedUser struct {
	ID          []byte          `json:"id"`
	Name        string          `json:"name"`
	DisplayName string          `json:"display_name,omitempty"`
	Credentials json.RawMessage `json:"credentials"`
}

func (s *RedisUserSource) key(userHandle []byte) string {
	return s.prefix + base64.RawURLEncoding.EncodeToString(userHandle)
}

// UserByHandle returns the user owning the credential. The user handle is
// authoritative; the raw credential id is matched against the user's
// registered credentials by the webauthn library afterwards.
func (s *RedisUserSource) UserByHandle(ctx context.Context, rawID, userHandle []byte) (*User, error) {
	raw, err := s.client.Get(ctx, s.key(userHandle)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: unknown passkey user", core.ErrInvalidCredential)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load passkey user: %w", err)
	}

	var stored storedUser
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCorruptRecord, err)
	}

	user := &User{
		ID:          stored.ID,
		Name:        stored.Name,
		DisplayName: stored.DisplayName,
	}
	if len(stored.Credentials) > 0 {
		if err := json.Unmarshal(stored.Credentials, &user.Credentials); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrCorruptRecord, err)
		}
	}

	return user, nil
}

// Put persists a passkey user, replacing any previous record for the handle.
func (s *RedisUserSource) Put(ctx context.Context, user *User) error {
	credentials, err := json.Marshal(user.Credentials)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	payload, err := json.Marshal(storedUser{
		ID:          user.ID,
		Name:        user.Name,
		DisplayName: user.DisplayName,
		Credentials: credentials,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal passkey user: %w", err)
	}

	if err := s.client.Set(ctx, s.key(user.ID), payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to save passkey user: %w", err)
	}
	return nil
}
