package lock

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"order-service/internal/metrics"
	"order-service/internal/models"
)

var (
	// ErrLockBusy means another valid lease exists for the key
	ErrLockBusy = errors.New("lock busy")
	// ErrLockTimeout means the bounded retry budget was exhausted
	ErrLockTimeout = errors.New("lock acquisition timed out")
	// ErrNotLockOwner means the caller's token does not match the stored lease
	ErrNotLockOwner = errors.New("not lock owner")
)

// releaseScript deletes the lease only if the caller's token still owns it.
// A plain DEL could release a lease acquired by a later holder after the
// original expired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// extendScript refreshes the TTL only for the current owner
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

// RetryPolicy bounds lock acquisition under contention
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration // base delay, doubled per attempt with jitter
	MaxWait     time.Duration // cap on total time spent waiting
}

// Manager acquires and releases short-lived, auto-expiring leases against a
// shared Redis backend. A lease is held by at most one owner; every lease has
// a finite TTL so a crashed holder cannot block the resource forever.
type Manager struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	retry     RetryPolicy
}

// NewManager creates a lock manager with cluster support
func NewManager(addrs []string, password string, clusterMode bool, poolSize int, keyPrefix string, ttl time.Duration, retry RetryPolicy) *Manager {
	var client redis.UniversalClient

	if clusterMode {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:          addrs,
			Password:       password,
			MaxRetries:     3,
			PoolSize:       poolSize,
			MinIdleConns:   5,
			PoolTimeout:    30 * time.Second,
			RouteByLatency: true,
		})
	} else {
		addr := "localhost:6379"
		if len(addrs) > 0 {
			addr = addrs[0]
		}
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			PoolSize: poolSize,
		})
	}

	return NewManagerWithClient(client, keyPrefix, ttl, retry)
}

// NewManagerWithClient wraps an existing Redis client
func NewManagerWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration, retry RetryPolicy) *Manager {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Manager{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		retry:     retry,
	}
}

// TTL returns the lease duration applied on acquisition
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Acquire attempts a single atomic set-if-absent with TTL. On success it
// returns a fresh opaque token identifying the lease; if another valid lease
// exists it returns ErrLockBusy.
func (m *Manager) Acquire(ctx context.Context, key string) (string, error) {
	token := uuid.New().String()

	ok, err := m.client.SetNX(ctx, m.lockKey(key), token, m.ttl).Result()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Lock backend error on acquire")
		return "", &models.BackendUnavailableError{Component: "lock backend", Cause: err}
	}
	if !ok {
		return "", ErrLockBusy
	}

	metrics.LockAcquisitions.WithLabelValues("acquired").Inc()
	log.Debug().Str("key", key).Msg("Acquired lock")
	return token, nil
}

// AcquireWithRetry retries Acquire with jittered exponential backoff up to
// the policy's attempt budget and total wait cap. Exhausting the budget
// returns ErrLockTimeout rather than blocking indefinitely.
func (m *Manager) AcquireWithRetry(ctx context.Context, key string) (string, error) {
	deadline := time.Now().Add(m.retry.MaxWait)

	for attempt := 0; attempt < m.retry.MaxAttempts; attempt++ {
		token, err := m.Acquire(ctx, key)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrLockBusy) {
			return "", err
		}

		if attempt == m.retry.MaxAttempts-1 {
			break
		}

		backoff := m.jitteredBackoff(attempt)
		if time.Now().Add(backoff).After(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}

	metrics.LockAcquisitions.WithLabelValues("timeout").Inc()
	log.Warn().Str("key", key).Int("attempts", m.retry.MaxAttempts).Msg("Lock acquisition timed out")
	return "", ErrLockTimeout
}

// jitteredBackoff draws a full-jitter delay for the given attempt. Full
// jitter keeps contending callers from retrying in lockstep. The doubled
// base is clamped to MaxWait; a high attempt count must not overflow the
// shift into a negative duration.
func (m *Manager) jitteredBackoff(attempt int) time.Duration {
	backoff := m.retry.Backoff << attempt
	if backoff <= 0 || backoff > m.retry.MaxWait {
		backoff = m.retry.MaxWait
	}
	return time.Duration(rand.Int63n(int64(backoff) + 1))
}

// Release deletes the lease only if token still owns it (compare-and-delete).
// A token that does not match the current holder never deletes the active
// lease; the caller gets ErrNotLockOwner.
func (m *Manager) Release(ctx context.Context, key, token string) error {
	deleted, err := releaseScript.Run(ctx, m.client, []string{m.lockKey(key)}, token).Int()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Lock backend error on release")
		return &models.BackendUnavailableError{Component: "lock backend", Cause: err}
	}
	if deleted == 0 {
		log.Warn().Str("key", key).Msg("Release attempted by non-owner")
		return ErrNotLockOwner
	}

	log.Debug().Str("key", key).Msg("Released lock")
	return nil
}

// Extend refreshes the lease TTL for the current owner. A failed extend must
// be treated as lock loss: the caller aborts and does not trust subsequent
// mutations as protected.
func (m *Manager) Extend(ctx context.Context, key, token string, ttl time.Duration) error {
	extended, err := extendScript.Run(ctx, m.client, []string{m.lockKey(key)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Lock backend error on extend")
		return &models.BackendUnavailableError{Component: "lock backend", Cause: err}
	}
	if extended == 0 {
		return ErrNotLockOwner
	}

	log.Debug().Str("key", key).Dur("ttl", ttl).Msg("Extended lock")
	return nil
}

// Ping checks if the lock backend is reachable
func (m *Manager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (m *Manager) Close() error {
	return m.client.Close()
}

func (m *Manager) lockKey(key string) string {
	return m.keyPrefix + "lock:" + key
}
