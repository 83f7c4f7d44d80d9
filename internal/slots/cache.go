package slots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/interfaces"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/logger"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/monitoring"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/types"
)

// ErrCacheMiss is returned by a Backend when the key is absent
var ErrCacheMiss = errors.New("cache miss")

// Backend is the key/value store behind the slot cache
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RedisBackend implements Backend with go-redis
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps a connected client
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}
	return result, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in cache: %w", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete from cache: %w", err)
	}
	return nil
}

// PingContext lets the backend double as a health check target
func (b *RedisBackend) PingContext(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// CachedGenerator memoizes slot answers per doctor and date. The ledger
// invalidates a day after every write touching it, so a stale answer lives
// at most until the next write or the TTL.
type CachedGenerator struct {
	source  interfaces.SlotSource
	backend Backend
	ttl     time.Duration
	logger  *logger.Logger
	metrics *monitoring.MetricsCollector
}

// NewCachedGenerator decorates source with a cache
func NewCachedGenerator(source interfaces.SlotSource, backend Backend, ttl time.Duration, log *logger.Logger, metrics *monitoring.MetricsCollector) *CachedGenerator {
	return &CachedGenerator{
		source:  source,
		backend: backend,
		ttl:     ttl,
		logger:  log,
		metrics: metrics,
	}
}

func cacheKey(doctorID int64, date time.Time) string {
	return fmt.Sprintf("slots:%d:%s", doctorID, date.Format(types.DateLayout))
}

// Slots implements interfaces.SlotSource. Cache faults fall through to the source.
func (c *CachedGenerator) Slots(ctx context.Context, doctorID int64, date time.Time) ([]types.TimeOfDay, error) {
	date = types.DateOf(date)
	key := cacheKey(doctorID, date)
	log := c.logger.WithComponent("slot_cache").WithField("key", key)

	raw, err := c.backend.Get(ctx, key)
	if err == nil {
		var cached []types.TimeOfDay
		if err := json.Unmarshal(raw, &cached); err == nil {
			c.metrics.RecordSlotCache(true)
			return cached, nil
		}
		log.Warn("Discarding undecodable cached slots")
	} else if !errors.Is(err, ErrCacheMiss) {
		log.WithError(err).Warn("Slot cache read failed")
	}
	c.metrics.RecordSlotCache(false)

	slots, err := c.source.Slots(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(slots); err == nil {
		if err := c.backend.Set(ctx, key, raw, c.ttl); err != nil {
			log.WithError(err).Warn("Slot cache write failed")
		}
	}
	return slots, nil
}

// Invalidate implements interfaces.SlotInvalidator
func (c *CachedGenerator) Invalidate(ctx context.Context, doctorID int64, dates ...time.Time) {
	if len(dates) == 0 {
		return
	}
	keys := make([]string, len(dates))
	for i, d := range dates {
		keys[i] = cacheKey(doctorID, types.DateOf(d))
	}
	if err := c.backend.Delete(ctx, keys...); err != nil {
		c.logger.WithComponent("slot_cache").WithError(err).Warn("Slot cache invalidation failed")
	}
}
