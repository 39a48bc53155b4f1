package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/storefront/internal/model"
)

// UserCache stores auth projections by user id for a short time.
type UserCache interface {
	Get(ctx context.Context, id string) (model.User, bool)
	Set(ctx context.Context, u model.User)
	Delete(ctx context.Context, id string)
}

// RedisUserCache keeps users as JSON strings under "<prefix>:<id>".
type RedisUserCache struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisUserCache(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisUserCache {
	return &RedisUserCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *RedisUserCache) key(id string) string { return c.prefix + ":" + id }

func (c *RedisUserCache) Get(ctx context.Context, id string) (model.User, bool) {
	raw, err := c.rdb.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warnf("[usercache] get %s: %v", id, err)
		}
		return model.User{}, false
	}
	var u model.User
	if err := json.Unmarshal(raw, &u); err != nil {
		log.Warnf("[usercache] decode %s: %v", id, err)
		return model.User{}, false
	}
	return u, true
}

func (c *RedisUserCache) Set(ctx context.Context, u model.User) {
	raw, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(u.ID), raw, c.ttl).Err(); err != nil {
		log.Warnf("[usercache] set %s: %v", u.ID, err)
	}
}

func (c *RedisUserCache) Delete(ctx context.Context, id string) {
	if err := c.rdb.Del(ctx, c.key(id)).Err(); err != nil {
		log.Warnf("[usercache] delete %s: %v", id, err)
	}
}

// CachedUsers is a read-through UserStore.  Every code path that mutates a
// user must call Invalidate before responding.
type CachedUsers struct {
	store UserStore
	cache UserCache
}

// NewCachedUsers wraps store.  A nil cache makes every read hit the store.
func NewCachedUsers(store UserStore, cache UserCache) *CachedUsers {
	return &CachedUsers{store: store, cache: cache}
}

func (c *CachedUsers) GetByID(ctx context.Context, id string) (model.User, error) {
	if c.cache != nil {
		if u, ok := c.cache.Get(ctx, id); ok {
			return u, nil
		}
	}
	u, err := c.store.GetByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if c.cache != nil {
		c.cache.Set(ctx, u)
	}
	return u, nil
}

// Invalidate drops the cached copy of the user.
func (c *CachedUsers) Invalidate(ctx context.Context, id string) {
	if c.cache != nil {
		c.cache.Delete(ctx, id)
	}
}
