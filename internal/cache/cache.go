/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// Cache is the read-through cache used by the datasource for order lookups.
type Cache interface {
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get loads key into data. found is false on a cache miss, which is not an error.
	Get(ctx context.Context, key string, data interface{}) (found bool, err error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// RedisCache implements Cache on top of go-redis/cache. Values are msgpack encoded.
type RedisCache struct {
	cache *cache.Cache
}

// Options tune the cache. LocalSize > 0 adds an in-process TinyLFU layer in front of Redis;
// leave it at zero when several processes write the same keys.
type Options struct {
	LocalSize int
	LocalTTL  time.Duration
}

// NewCache builds a Redis-backed cache on an existing client.
func NewCache(client redis.UniversalClient, opts Options) *RedisCache {
	cacheOpts := &cache.Options{Redis: client}
	if opts.LocalSize > 0 {
		ttl := opts.LocalTTL
		if ttl <= 0 {
			ttl = time.Minute
		}
		cacheOpts.LocalCache = cache.NewTinyLFU(opts.LocalSize, ttl)
	}
	return &RedisCache{cache: cache.New(cacheOpts)}
}

func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) (bool, error) {
	err := r.cache.Get(ctx, key, data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	err := r.cache.Delete(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
