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

// Package auth validates connection credentials: bearer tokens against the
// external auth service, and the static monitor API key for observability
// sessions.
package auth

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Together-Coding/IDE-Server/utils"
)

// ErrAuthFailed is returned when a credential does not resolve to a valid
// principal. Connections carrying it are refused before the WebSocket
// upgrade completes.
var ErrAuthFailed = errors.New("authorization failed")

// Principal is the identity bound to a session at connect time.
type Principal struct {
	UserID int64 `json:"userId"`
}

// Config holds auth-related settings.
type Config struct {
	AuthURL    string
	MonitorKey string
	Timeout    time.Duration
}

// Verifier checks bearer tokens against the external auth endpoint and
// monitor keys against the configured static key.
type Verifier struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// NewVerifier creates a Verifier. A zero Timeout defaults to 5 s.
func NewVerifier(config Config, logger *slog.Logger) *Verifier {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Valid  bool  `json:"valid"`
	UserID int64 `json:"userId"`
}

// VerifyToken posts the token to the auth service and returns the resolved
// principal. Invalid tokens return ErrAuthFailed.
func (v *Verifier) VerifyToken(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, fmt.Errorf("%w: empty token", ErrAuthFailed)
	}

	body, err := json.Marshal(verifyRequest{Token: token})
	if err != nil {
		return Principal{}, fmt.Errorf("failed to encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.config.AuthURL, bytes.NewReader(body))
	if err != nil {
		return Principal{}, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return Principal{}, fmt.Errorf("token verification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		v.logger.Warn("auth service rejected token verification",
			slog.Int("status", resp.StatusCode))
		return Principal{}, fmt.Errorf("%w: auth service status %d", ErrAuthFailed, resp.StatusCode)
	}

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Principal{}, fmt.Errorf("failed to decode verify response: %w", err)
	}
	if !result.Valid {
		return Principal{}, fmt.Errorf("%w: not a valid token", ErrAuthFailed)
	}

	return Principal{UserID: result.UserID}, nil
}

// VerifyMonitorKey reports whether key matches the configured monitor API
// key. An empty configured key disables monitor access entirely.
func (v *Verifier) VerifyMonitorKey(key string) bool {
	if v.config.MonitorKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(v.config.MonitorKey)) == 1
}

// FlagPointers holds pointers to flag values for auth configuration.
type FlagPointers struct {
	authURL    *string
	monitorKey *string
}

// RegisterAuthFlags registers auth-related command-line flags. Convert to
// Config after flag.Parse().
func RegisterAuthFlags() *FlagPointers {
	return &FlagPointers{
		authURL: flag.String("auth-url",
			utils.GetEnv("AUTH_URL", "http://localhost:8080/api/auth"),
			"Token verification endpoint of the auth service"),
		monitorKey: flag.String("monitor-key",
			utils.GetEnvOrConfig("MONITOR_KEY", "monitor_key", ""),
			"Static API key granting monitor access; empty disables monitoring"),
	}
}

// ToConfig converts flag pointers to Config.
// This should be called after flag.Parse()
func (f *FlagPointers) ToConfig() Config {
	return Config{
		AuthURL:    *f.authURL,
		MonitorKey: *f.monitorKey,
	}
}
