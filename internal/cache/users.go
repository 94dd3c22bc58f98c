package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spec-kit/user-directory/internal/domain"
	"github.com/spec-kit/user-directory/internal/events"
)

const (
	userKeyPrefix = "users:id:"
	listKey       = "users:all"
)

// UserCache is a read-through JSON cache for single-user lookups and the
// unfiltered listing. All methods are nil-safe; without a configured client
// every read goes straight to the loader, so cache outages never fail a
// request.
type UserCache struct {
	rdb    *redis.Client
	sf     singleflight.Group
	ttl    time.Duration
	logger *zap.Logger
}

// NewUserCache wraps a redis client. A nil client disables caching.
func NewUserCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *UserCache {
	if client == nil || ttl <= 0 {
		return nil
	}
	return &UserCache{rdb: client, ttl: ttl, logger: logger}
}

// GetUser returns the cached user or loads and caches it.
func (c *UserCache) GetUser(ctx context.Context, id int64, load func(context.Context) (*domain.User, error)) (*domain.User, error) {
	if c == nil {
		return load(ctx)
	}
	b, err := c.getOrLoad(ctx, userKey(id), func(ctx context.Context) ([]byte, error) {
		u, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(u)
	})
	if err != nil {
		return nil, err
	}
	var out domain.User
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListUsers returns the cached unfiltered listing or loads and caches it.
// Filtered searches bypass the cache entirely.
func (c *UserCache) ListUsers(ctx context.Context, load func(context.Context) ([]domain.User, error)) ([]domain.User, error) {
	if c == nil {
		return load(ctx)
	}
	b, err := c.getOrLoad(ctx, listKey, func(ctx context.Context) ([]byte, error) {
		users, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(users)
	})
	if err != nil {
		return nil, err
	}
	var out []domain.User
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Invalidate drops the entry for one user along with the listing.
func (c *UserCache) Invalidate(ctx context.Context, id int64) {
	if c == nil {
		return
	}
	if err := c.rdb.Del(ctx, userKey(id), listKey).Err(); err != nil {
		c.logger.Warn("cache invalidation failed", zap.Int64("user_id", id), zap.Error(err))
	}
}

// RegisterInvalidation subscribes cache invalidation to user mutation events.
func (c *UserCache) RegisterInvalidation(dispatcher events.Dispatcher) {
	if c == nil || dispatcher == nil {
		return
	}
	handler := func(ctx context.Context, event events.Event) error {
		c.Invalidate(ctx, event.UserID)
		return nil
	}
	dispatcher.Subscribe(events.EventUserCreated, handler)
	dispatcher.Subscribe(events.EventUserUpdated, handler)
	dispatcher.Subscribe(events.EventUserDeleted, handler)
}

func (c *UserCache) getOrLoad(ctx context.Context, key string, load func(context.Context) ([]byte, error)) ([]byte, error) {
	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		return b, nil
	}
	// single flight collapses concurrent loads for the same key
	v, err, _ := c.sf.Do(key, func() (any, error) {
		b, e := load(ctx)
		if e != nil {
			return nil, e
		}
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func userKey(id int64) string {
	return fmt.Sprintf("%s%d", userKeyPrefix, id)
}
