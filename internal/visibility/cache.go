package visibility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	// VersionKey holds the generation counter stamped into every cache key.
	VersionKey = "aqar:rbac:version"
	keyPrefix  = "aqar:rbac"

	// DefaultTTL bounds how long superseded generations linger in Redis.
	DefaultTTL = 10 * time.Minute
)

// Cache result labels reported to the CacheRecorder.
const (
	CacheHit      = "hit"
	CacheMiss     = "miss"
	CacheBypass   = "bypass"
	CacheFailOpen = "error"
)

// CacheRecorder observes cache lookups.
type CacheRecorder interface {
	ObserveCache(result string)
}

// Cache is a version-stamped read-through cache for resolver results.
// Invalidate bumps the version so every older key becomes unreachable.
// A nil Cache or nil client disables caching.
type Cache struct {
	client   *redis.Client
	ttl      time.Duration
	group    singleflight.Group
	logger   *slog.Logger
	recorder CacheRecorder
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger, recorder CacheRecorder) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger, recorder: recorder}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, VersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX so a concurrent Invalidate is never overwritten.
		if err := c.client.SetNX(ctx, VersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, VersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes a cache key stamped with the current version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(parts, ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d:%s", keyPrefix, ver, joined), nil
}

// FetchJSON loads the value stored for parts into dest, populating it with
// loader on a miss. Concurrent misses for one key share a single load.
// Redis failures fall back to the loader.
func (c *Cache) FetchJSON(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error {
	if loader == nil {
		return errors.New("visibility: cache loader required")
	}
	if c == nil || c.client == nil {
		c.observe(CacheBypass)
		return loadInto(ctx, dest, loader)
	}
	key, err := c.BuildKey(ctx, parts...)
	if err != nil {
		c.failOpen("build key", err)
		return loadInto(ctx, dest, loader)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		if jsonErr := json.Unmarshal(payload, dest); jsonErr == nil {
			c.observe(CacheHit)
			return nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.failOpen("get", err)
		return loadInto(ctx, dest, loader)
	}

	c.observe(CacheMiss)
	raw, err, _ := c.group.Do(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			c.failOpen("set", err)
		}
		return encoded, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), dest)
}

// Invalidate bumps the cache version.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, VersionKey).Err(); err != nil {
		return fmt.Errorf("visibility: bump cache version: %w", err)
	}
	return nil
}

func (c *Cache) observe(result string) {
	if c != nil && c.recorder != nil {
		c.recorder.ObserveCache(result)
	}
}

func (c *Cache) failOpen(op string, err error) {
	c.observe(CacheFailOpen)
	c.logger.Warn("visibility cache "+op, slog.Any("error", err))
}

func loadInto(ctx context.Context, dest any, loader func(context.Context) (any, error)) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
