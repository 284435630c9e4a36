package sweeper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// DefaultMarkerTTL bounds how long a durable reminder marker is kept.
const DefaultMarkerTTL = 7 * 24 * time.Hour

var ErrLockHeld = errors.New("sweep lock held by another instance")

// Marker remembers which orders were already reminded.
type Marker interface {
	// MarkReminded records the reminder and reports whether this call set it.
	MarkReminded(ctx context.Context, orderID int64) (bool, error)
	// Unmark clears the marker so a later sweep reminds again.
	Unmark(ctx context.Context, orderID int64) error
}

// MemoryMarker keeps markers for the lifetime of the process.
type MemoryMarker struct {
	mu   sync.Mutex
	seen map[int64]struct{}
}

func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{seen: make(map[int64]struct{})}
}

func (m *MemoryMarker) MarkReminded(ctx context.Context, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[orderID]; ok {
		return false, nil
	}
	m.seen[orderID] = struct{}{}
	return true, nil
}

func (m *MemoryMarker) Unmark(ctx context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, orderID)
	return nil
}

// RedisMarker survives restarts and is shared between instances.
type RedisMarker struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisMarker(rdb *redis.Client, ttl time.Duration) *RedisMarker {
	if ttl <= 0 {
		ttl = DefaultMarkerTTL
	}
	return &RedisMarker{rdb: rdb, prefix: "orders:reminded:", ttl: ttl}
}

func (m *RedisMarker) key(orderID int64) string {
	return m.prefix + strconv.FormatInt(orderID, 10)
}

func (m *RedisMarker) MarkReminded(ctx context.Context, orderID int64) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, m.key(orderID), time.Now().UTC().Format(time.RFC3339), m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set reminder marker: %w", err)
	}
	return ok, nil
}

func (m *RedisMarker) Unmark(ctx context.Context, orderID int64) error {
	if err := m.rdb.Del(ctx, m.key(orderID)).Err(); err != nil {
		return fmt.Errorf("failed to clear reminder marker: %w", err)
	}
	return nil
}

// Locker guards one sweep against concurrent sweeps of other instances.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

type RedisLocker struct {
	client *redislock.Client
	owner  string
}

func NewRedisLocker(rdb *redis.Client, owner string) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb), owner: owner}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, &redislock.Options{Metadata: l.owner})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockHeld
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}
	return lock.Release, nil
}
