package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joeblew999/greenedumap/internal/feature"
)

// ErrCacheMiss is returned by a KV on a missing key.
var ErrCacheMiss = errors.New("cache miss")

// KV is the key/value surface the cache needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisKV adapts a go-redis client to KV.
type RedisKV struct {
	Client *redis.Client
}

func (r RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (r RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.Client.Set(ctx, key, value, ttl).Err()
}

// OpenRedis returns a client for addr, or nil when addr is empty.
func OpenRedis(addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

// Cache serves repeated fetches from a KV store. Cache failures never fail
// a fetch; they are logged and the inner source is used.
type Cache struct {
	inner Source
	kv    KV
	ttl   time.Duration
	log   *slog.Logger
}

// NewCache wraps inner.
func NewCache(inner Source, kv KV, ttl time.Duration, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{inner: inner, kv: kv, ttl: ttl, log: log}
}

func (c *Cache) Name() string { return "cache" }

func (c *Cache) key(cat feature.Category, q Query) string {
	return "greenmap:records:" + c.inner.Name() + ":" + string(cat) + ":" + q.Key()
}

func (c *Cache) Fetch(ctx context.Context, cat feature.Category, q Query) ([]feature.Record, error) {
	start := time.Now()
	key := c.key(cat, q)

	if b, err := c.kv.Get(ctx, key); err == nil {
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var records []feature.Record
		if err := dec.Decode(&records); err == nil {
			observe(c.Name(), start, "cache_hit")
			return records, nil
		}
		c.log.Warn("cache entry unreadable", "key", key)
	} else if !errors.Is(err, ErrCacheMiss) {
		c.log.Warn("cache get failed", "key", key, "error", err)
	}

	records, err := c.inner.Fetch(ctx, cat, q)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(records); err == nil {
		if err := c.kv.Set(ctx, key, b, c.ttl); err != nil {
			c.log.Warn("cache set failed", "key", key, "error", err)
		}
	}
	return records, nil
}
