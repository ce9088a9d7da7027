// Package locks provides a short-lived named mutual-exclusion primitive
// backed by Redis. Locks are advisory and bounded by TTL so a crashed
// holder cannot block forever.
package locks

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

var (
	// ErrNotHeld is returned by Release when the token does not match the
	// current holder (or the lock already expired).
	ErrNotHeld = errors.New("locks: lock not held by this token")
)

// releaseScript deletes the key only when its value matches the caller's
// token, so an expired-and-reacquired lock is never released by a stale
// holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Service implements named TTL locks over a Redis client.
type Service struct {
	client *redis.Client
	logger *logging.Logger
}

// NewService wraps the given Redis client.
func NewService(client *redis.Client, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{client: client, logger: logger}
}

// Options configures the Redis connection for BuildClient.
type Options struct {
	Addr     string
	Password string
	TLS      bool
}

// BuildClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildClient(ctx context.Context, opts Options, logger *logging.Logger, verify bool) *redis.Client {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
	}
	if opts.TLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// TryAcquire attempts to take the named lock for ttl. It returns the
// release token and true on success, or "" and false when another holder
// exists.
func (s *Service) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if s.client == nil {
		return "", false, fmt.Errorf("locks: redis client not configured")
	}
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("locks: failed to acquire %q: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the named lock iff token still holds it.
func (s *Service) Release(ctx context.Context, key, token string) error {
	if s.client == nil {
		return fmt.Errorf("locks: redis client not configured")
	}
	deleted, err := releaseScript.Run(ctx, s.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("locks: failed to release %q: %w", key, err)
	}
	if deleted == 0 {
		return ErrNotHeld
	}
	return nil
}

// Ping verifies connectivity for health checks.
func (s *Service) Ping(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("locks: redis client not configured")
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("locks: ping failed: %w", err)
	}
	return nil
}
