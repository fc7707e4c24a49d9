// Package claim provides a Redis-backed lease lock used to keep scheduler
// instances from processing the same enrollment concurrently. The database
// claim is the source of truth; this lock is a cheap first filter.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "flowlane:claim:"

// Lock acquires short-lived per-enrollment leases.
type Lock struct {
	client  redis.UniversalClient
	ownerID string
	logger  *slog.Logger
}

func NewLock(ctx context.Context, redisURL, ownerID string, logger *slog.Logger) (*Lock, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Lock{
		client:  client,
		ownerID: ownerID,
		logger:  logger.With("module", "claim"),
	}, nil
}

// Acquire takes the lease for an enrollment. Returns false when another
// instance holds it.
func (l *Lock) Acquire(ctx context.Context, enrollmentID string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, keyPrefix+enrollmentID, l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire claim: %w", err)
	}

	return ok, nil
}

// Release drops the lease if this instance still owns it.
func (l *Lock) Release(ctx context.Context, enrollmentID string) error {
	key := keyPrefix + enrollmentID

	owner, err := l.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to read claim owner: %w", err)
	}

	if owner != l.ownerID {
		l.logger.WarnContext(ctx, "Refusing to release claim held by another owner",
			"enrollment_id", enrollmentID, "owner", owner)

		return nil
	}

	err = l.client.Del(ctx, key).Err()
	if err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}

	return nil
}

func (l *Lock) Close() error {
	return l.client.Close()
}
