package auth

import (
	"context"
	"fmt"
	"time"
)

const revokedKeyPattern = "auth:revoked:%s"

// KeyStore is the subset of the Redis cache used for revocation.
type KeyStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
}

// RevocationService tracks revoked token IDs. The main platform writes
// entries on logout; entries expire with the token.
type RevocationService struct {
	store KeyStore
}

// NewRevocationService creates a revocation checker. A nil store disables checks.
func NewRevocationService(store KeyStore) *RevocationService {
	return &RevocationService{store: store}
}

// Enabled reports whether revocations are stored
func (s *RevocationService) Enabled() bool {
	return s != nil && s.store != nil
}

// RevokeToken marks jti as revoked until expiresAt
func (s *RevocationService) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if s.store == nil {
		return nil
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.store.Set(ctx, fmt.Sprintf(revokedKeyPattern, jti), "1", ttl)
}

// IsTokenRevoked checks if a token ID has been revoked
func (s *RevocationService) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if s.store == nil || jti == "" {
		return false, nil
	}
	return s.store.Exists(ctx, fmt.Sprintf(revokedKeyPattern, jti))
}
