package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisClient is the subset of the go-redis client the cache needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// errStaleFill aborts a cache fill raced by an invalidation.
var errStaleFill = errors.New("role changed during lookup")

// CachedStore caches persisted role lookups in Redis. Only the stored role
// is cached; allow-list membership is always evaluated by the resolver.
// Cache failures fall through to the wrapped store.
//
// Every write bumps a per-user generation counter. A lookup only fills the
// cache when the generation it saw before reading the store is still current,
// so a lookup that overlapped a grant or downgrade never re-caches the old role.
type CachedStore struct {
	store  RoleStore
	client RedisClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedStore wraps store with a Redis read-through cache.
func NewCachedStore(store RoleStore, client RedisClient, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{store: store, client: client, ttl: ttl, logger: logger}
}

func cacheKey(userID string) string {
	return "rbac:role:" + userID
}

func generationKey(userID string) string {
	return "rbac:role-gen:" + userID
}

// generationTTL outlives any in-flight lookup by a wide margin.
func (c *CachedStore) generationTTL() time.Duration {
	if ttl := 10 * c.ttl; ttl > time.Hour {
		return ttl
	}
	return time.Hour
}

func (c *CachedStore) LookupRole(ctx context.Context, userID string) (Role, error) {
	key := cacheKey(userID)

	cached, err := c.client.Get(ctx, key).Result()
	if err == nil {
		if role, parseErr := ParseRole(cached); parseErr == nil {
			return role, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Debug("role cache read failed", zap.String("key", key), zap.Error(err))
	}

	generation, genErr := readGeneration(c.client.Get(ctx, generationKey(userID)))

	role, err := c.store.LookupRole(ctx, userID)
	if err != nil {
		return role, err
	}

	if genErr == nil {
		c.fill(ctx, userID, generation, role)
	}
	return role, nil
}

func readGeneration(cmd *redis.StringCmd) (int64, error) {
	value, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return value, err
}

func (c *CachedStore) fill(ctx context.Context, userID string, generation int64, role Role) {
	key := cacheKey(userID)
	genKey := generationKey(userID)

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(tx.Get(ctx, genKey))
		if err != nil {
			return err
		}
		if current != generation {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, role.String(), c.ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("role cache fill skipped", zap.String("key", key))
	default:
		c.logger.Debug("role cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *CachedStore) Grant(ctx context.Context, userID string, role Role) (bool, error) {
	granted, err := c.store.Grant(ctx, userID, role)
	if err != nil {
		return false, err
	}
	c.invalidate(ctx, userID)
	return granted, nil
}

func (c *CachedStore) Downgrade(ctx context.Context, userID string) error {
	if err := c.store.Downgrade(ctx, userID); err != nil {
		return err
	}
	c.invalidate(ctx, userID)
	return nil
}

func (c *CachedStore) Assignments(ctx context.Context) (map[string]Role, error) {
	return c.store.Assignments(ctx)
}

func (c *CachedStore) invalidate(ctx context.Context, userID string) {
	key := cacheKey(userID)
	genKey := generationKey(userID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, c.generationTTL())
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		c.logger.Warn("role cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
}
