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

package redis

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Together-Coding/IDE-Server/utils"
)

// RedisConfig holds Redis connection configuration. URL, when set, takes
// precedence over Host/Port/Password; DB always applies.
type RedisConfig struct {
	URL        string
	Host       string
	Port       int
	Password   string
	DB         int
	TLSEnabled bool
}

// RedisClient handles Redis operations
type RedisClient struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisClient creates a new Redis client
func NewRedisClient(ctx context.Context, config RedisConfig, logger *slog.Logger) (*RedisClient, error) {
	var redisOptions *redis.Options

	if config.URL != "" {
		parsed, err := redis.ParseURL(config.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		redisOptions = parsed
		redisOptions.DB = config.DB
	} else {
		redisOptions = &redis.Options{
			Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
			Password: config.Password,
			DB:       config.DB,
		}
	}

	// Enable TLS if configured
	if config.TLSEnabled && redisOptions.TLSConfig == nil {
		redisOptions.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(redisOptions)

	// Ping to verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	logger.Info("Redis client connected successfully",
		slog.String("address", redisOptions.Addr),
		slog.Int("db", config.DB),
		slog.Bool("tls", redisOptions.TLSConfig != nil),
	)

	return &RedisClient{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	c.logger.Info("closing redis client")
	return c.client.Close()
}

// Client returns the underlying redis.Client for direct access
func (c *RedisClient) Client() *redis.Client {
	return c.client
}

// Ping verifies the Redis connection is still alive
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// CreateClient creates a Redis client from RedisConfig
func (config *RedisConfig) CreateClient(logger *slog.Logger) (*RedisClient, error) {
	return NewRedisClient(context.Background(), *config, logger)
}

// WithDB returns a copy of the config pointing at a different database
// number. Used to derive the memoization-cache client from the KV config.
func (config RedisConfig) WithDB(db int) RedisConfig {
	config.DB = db
	return config
}

// RedisFlagPointers holds pointers to flag values for Redis configuration
type RedisFlagPointers struct {
	url        *string
	host       *string
	port       *int
	password   *string
	db         *int
	cacheDB    *int
	tlsEnabled *bool
}

// RegisterRedisFlags registers Redis-related command-line flags
// Returns a RedisFlagPointers that should be converted to RedisConfig
// after flag.Parse() is called
func RegisterRedisFlags() *RedisFlagPointers {
	return &RedisFlagPointers{
		url: flag.String("kv-url",
			utils.GetEnv("KV_URL", ""),
			"Redis URL (redis://[:password@]host:port); overrides host/port/password"),
		host: flag.String("kv-host",
			utils.GetEnv("KV_HOST", "localhost"),
			"Redis host"),
		port: flag.Int("kv-port",
			utils.GetEnvInt("KV_PORT", 6379),
			"Redis port"),
		password: flag.String("kv-password",
			utils.GetEnvOrConfig("KV_PASSWORD", "kv_password", ""),
			"Redis password"),
		db: flag.Int("kv-db-number",
			utils.GetEnvInt("KV_DB", 0),
			"Redis database number for file and room state. Default value is 0"),
		cacheDB: flag.Int("cache-db-number",
			utils.GetEnvInt("CACHE_DB", 1),
			"Redis database number for memoized lookups. Default value is 1"),
		tlsEnabled: flag.Bool("kv-tls-enable",
			utils.GetEnvBool("KV_TLS_ENABLE", false),
			"Enable TLS for Redis connection"),
	}
}

// ToRedisConfig converts flag pointers to RedisConfig
// This should be called after flag.Parse()
func (r *RedisFlagPointers) ToRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        *r.url,
		Host:       *r.host,
		Port:       *r.port,
		Password:   *r.password,
		DB:         *r.db,
		TLSEnabled: *r.tlsEnabled,
	}
}

// CacheDB returns the database number reserved for the memoization cache.
// This should be called after flag.Parse()
func (r *RedisFlagPointers) CacheDB() int {
	return *r.cacheDB
}
