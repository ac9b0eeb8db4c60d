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

// IDE-Server is the realtime collaboration backend of the coding classroom:
// it terminates WebSocket connections, dispatches protocol events, stores
// project files in a redis-hot / s3-cold two-tier store, and fans events
// out across instances over redis pub/sub.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Together-Coding/IDE-Server/internal/auth"
	"github.com/Together-Coding/IDE-Server/internal/meta"
	"github.com/Together-Coding/IDE-Server/internal/perm"
	"github.com/Together-Coding/IDE-Server/internal/server"
	"github.com/Together-Coding/IDE-Server/pkg/filestore"
	"github.com/Together-Coding/IDE-Server/utils"
	"github.com/Together-Coding/IDE-Server/utils/cache"
	"github.com/Together-Coding/IDE-Server/utils/logging"
	"github.com/Together-Coding/IDE-Server/utils/postgres"
	"github.com/Together-Coding/IDE-Server/utils/redis"
	"github.com/Together-Coding/IDE-Server/utils/s3"
)

const shutdownTimeout = 10 * time.Second

var (
	port = flag.Int("port",
		utils.GetEnvInt("PORT", 8000),
		"HTTP listen port")
	serviceName = flag.String("service-name",
		utils.GetEnv("SERVICE_NAME", "ide-server"),
		"Service name used as the log prefix")
	sentryDSN = flag.String("sentry-dsn",
		utils.GetEnvOrConfig("SENTRY_DSN", "sentry_dsn", ""),
		"Sentry DSN; empty disables error reporting")
	hotLimit = flag.Int64("hot-limit",
		utils.GetEnvInt64("HOT_LIMIT", filestore.DefaultHotLimit),
		"Per-file size above which content is stored in the object store")
	sizeLimit = flag.Int64("project-size-limit",
		utils.GetEnvInt64("PROJECT_SIZE_LIMIT", filestore.DefaultSizeLimit),
		"Per-project total size cap in bytes")
	cacheTTL = flag.Duration("cache-ttl",
		cache.DefaultTTL,
		"TTL for memoized metadata lookups")
)

func main() {
	loggingFlags := logging.RegisterFlags()
	redisFlags := redis.RegisterRedisFlags()
	postgresFlags := postgres.RegisterPostgresFlags()
	s3Flags := s3.RegisterS3Flags()
	authFlags := auth.RegisterAuthFlags()
	flag.Parse()

	logger := logging.InitLogger(*serviceName, loggingFlags.ToConfig())

	if *sentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: *sentryDSN}); err != nil {
			log.Fatalf("Failed to initialize sentry: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisConfig := redisFlags.ToRedisConfig()
	kvClient, err := redis.NewRedisClient(ctx, redisConfig, logger)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer kvClient.Close()

	cacheClient, err := redis.NewRedisClient(ctx, redisConfig.WithDB(redisFlags.CacheDB()), logger)
	if err != nil {
		log.Fatalf("Failed to connect to cache redis: %v", err)
	}
	defer cacheClient.Close()

	pgClient, err := postgres.NewPostgresClient(ctx, postgresFlags.ToPostgresConfig(), logger)
	if err != nil {
		log.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer pgClient.Close()

	objectClient, err := s3.NewS3Client(ctx, s3Flags.ToS3Config(), logger)
	if err != nil {
		log.Fatalf("Failed to connect to object store: %v", err)
	}

	authConfig := authFlags.ToConfig()
	verifier := auth.NewVerifier(authConfig, logger)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	metaStore := meta.NewStore(pgClient.Pool(), logger)
	srv := server.NewServer(server.Deps{
		Meta:     metaStore,
		Perm:     perm.NewEngine(metaStore),
		RDB:      kvClient.Client(),
		Objects:  objectClient,
		Limits:   filestore.Limits{HotLimit: *hotLimit, SizeLimit: *sizeLimit},
		Cache:    cache.New(cacheClient.Client(), *cacheTTL, logger),
		Verifier: verifier,
		Hostname: hostname,
		// Monitoring needs the admin key; without one there is nothing to
		// let into the monitor room.
		MonitorEnabled: authConfig.MonitorKey != "",
		Logger:         logger,
	})

	hubDone := make(chan error, 1)
	go func() {
		hubDone <- srv.Hub().Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := kvClient.Ping(r.Context()); err != nil {
			http.Error(w, "kv unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := pgClient.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: mux,
	}

	logger.Info("ide-server listening",
		slog.String("module", "main"),
		slog.Int("port", *port),
		slog.String("hostname", hostname),
		slog.Bool("monitor", authConfig.MonitorKey != ""))

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", slog.String("module", "main"))
	case err := <-serveDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	case err := <-hubDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("Fan-out hub failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete",
			slog.String("module", "main"),
			slog.String("error", err.Error()))
	}
}
