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

package postgres

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"
)

// integrationConfig returns a config for a locally running PostgreSQL, or
// skips the test when TEST_DATABASE_URL is not set.
func integrationConfig(t *testing.T) PostgresConfig {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Skipping test: TEST_DATABASE_URL not set.\n" +
			"Run PostgreSQL with:\n" +
			"  docker run --rm -d --name postgres -p 5432:5432 \\\n" +
			"    -e POSTGRES_PASSWORD=ide -e POSTGRES_DB=ide postgres:15.1")
	}
	return PostgresConfig{URL: url}
}

// TestPostgresIntegration_Connection tests connecting to a real PostgreSQL instance
func TestPostgresIntegration_Connection(t *testing.T) {
	config := integrationConfig(t)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx := context.Background()
	client, err := NewPostgresClient(ctx, config, logger)
	if err != nil {
		t.Skipf("Skipping test: PostgreSQL not available: %v", err)
	}
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}
}

// TestPostgresIntegration_Pool tests that the connection pool is accessible
func TestPostgresIntegration_Pool(t *testing.T) {
	config := integrationConfig(t)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx := context.Background()
	client, err := NewPostgresClient(ctx, config, logger)
	if err != nil {
		t.Skipf("Skipping test: PostgreSQL not available: %v", err)
	}
	defer client.Close()

	pool := client.Pool()
	if pool == nil {
		t.Fatal("Pool() returned nil")
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := pool.Query(queryCtx, "SELECT 1")
	if err != nil {
		t.Fatalf("Failed to execute query: %v", err)
	}
	defer rows.Close()

	if !rows.Next() {
		t.Fatal("Expected at least one row from SELECT 1")
	}

	var result int
	if err := rows.Scan(&result); err != nil {
		t.Fatalf("Failed to scan result: %v", err)
	}

	if result != 1 {
		t.Errorf("Expected result 1, got %d", result)
	}
}
