/*
SPDX-FileCopyrightText: Copyright (c) 2026 Together Coding. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

// Package cache provides short-TTL memoization of expensive lookups in a
// dedicated Redis database, keyed by (entity scope, function identity,
// argument tuple). Writes that change the underlying data invalidate the
// affected keys explicitly; expiry is only a safety net.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds staleness for memoized lookups that miss an explicit
// invalidation path.
const DefaultTTL = 30 * time.Second

const keyPrefix = "_"

// Cache memoizes JSON-serializable values in Redis.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a Cache on the given Redis database. ttl <= 0 selects DefaultTTL.
func New(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// Key derives the memoization key for fn under scope with the given
// argument tuple. Arguments are hashed, not embedded, so arbitrary values
// are safe.
func Key(scope, fn string, args ...any) string {
	argJSON, err := json.Marshal(args)
	if err != nil {
		// Unmarshalable args degrade to the fn-level key
		argJSON = []byte("{}")
	}
	sum := md5.Sum(argJSON)
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, scope, fn, hex.EncodeToString(sum[:]))
}

// CourseScope returns the scope token for course-wide results.
func CourseScope(courseID int64) string {
	return fmt.Sprintf("course:%d", courseID)
}

// LessonScope returns the scope token for lesson-wide results.
func LessonScope(courseID, lessonID int64) string {
	return fmt.Sprintf("lesson:%d:%d", courseID, lessonID)
}

// PtcScope returns the scope token for participant-scoped results.
func PtcScope(ptcID int64) string {
	return fmt.Sprintf("ptc:%d", ptcID)
}

// Get unmarshals the cached value under key into dest. The boolean reports
// whether the key was present.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores val under key with the cache's default TTL.
func (c *Cache) Set(ctx context.Context, key string, val any) error {
	return c.SetTTL(ctx, key, val, c.ttl)
}

// SetTTL stores val under key with an explicit TTL.
func (c *Cache) SetTTL(ctx context.Context, key string, val any, ttl time.Duration) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete drops the given keys. Missing keys are ignored. Invalidation
// failures are logged by callers, not surfaced to clients.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Memoized returns the cached value under key, or fills it by calling fill
// and storing the result with the cache's default TTL. A nil cache always
// calls fill.
func Memoized[T any](ctx context.Context, c *Cache, key string, fill func(context.Context) (T, error)) (T, error) {
	var cached T
	if c == nil {
		return fill(ctx)
	}

	hit, err := c.Get(ctx, key, &cached)
	if err != nil {
		// A broken cache entry must not fail the lookup
		c.logger.Warn("cache read failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
	} else if hit {
		return cached, nil
	}

	fresh, err := fill(ctx)
	if err != nil {
		return fresh, err
	}

	if err := c.Set(ctx, key, fresh); err != nil {
		c.logger.Warn("cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
	return fresh, nil
}
