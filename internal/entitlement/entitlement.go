// Package entitlement answers whether a viewer currently holds an active
// entitlement. The entitlement itself is owned by an external service; the
// ledger only reads it.
package entitlement

import (
	"context"
	"errors"
	"sync"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
)

// Checker reports whether a user is currently entitled to read others' histories.
type Checker interface {
	IsActive(ctx context.Context, userID uuid.UUID) (bool, error)
}

// DefaultKeyPrefix is prepended to the user id to form the Redis key.
const DefaultKeyPrefix = "entitlement:active:"

// Redis reads entitlement flags published by the entitlement service.
// A present key with a value other than "0" or "false" means active;
// a missing key means inactive.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption configures a Redis checker.
type RedisOption func(*Redis)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// NewRedis constructs a Redis-backed checker.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// IsActive implements Checker.
func (r *Redis) IsActive(ctx context.Context, userID uuid.UUID) (bool, error) {
	v, err := r.client.Get(ctx, r.prefix+userID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v != "0" && v != "false", nil
}

// Static is an in-memory checker for development and tests.
type Static struct {
	mu     sync.RWMutex
	all    bool
	active map[uuid.UUID]bool
}

// NewStatic returns a checker that treats the listed users as entitled.
func NewStatic(users ...uuid.UUID) *Static {
	s := &Static{active: make(map[uuid.UUID]bool, len(users))}
	for _, u := range users {
		s.active[u] = true
	}
	return s
}

// AllowAll returns a checker under which every user is entitled.
func AllowAll() *Static {
	return &Static{all: true, active: map[uuid.UUID]bool{}}
}

// Set flips a user's entitlement.
func (s *Static) Set(userID uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[userID] = active
}

// IsActive implements Checker.
func (s *Static) IsActive(_ context.Context, userID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.all || s.active[userID], nil
}
