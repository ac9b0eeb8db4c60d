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

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestVerifier(t *testing.T, handler http.HandlerFunc, monitorKey string) *Verifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewVerifier(Config{AuthURL: srv.URL, MonitorKey: monitorKey}, nil)
}

func TestVerifyTokenValid(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Token != "good-token" {
			t.Errorf("token = %q, want good-token", req.Token)
		}
		json.NewEncoder(w).Encode(verifyResponse{Valid: true, UserID: 42})
	}, "")

	p, err := v.VerifyToken(context.Background(), "good-token")
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if p.UserID != 42 {
		t.Errorf("UserID = %d, want 42", p.UserID)
	}
}

func TestVerifyTokenInvalid(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(verifyResponse{Valid: false})
	}, "")

	_, err := v.VerifyToken(context.Background(), "bad-token")
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("err = %v, want ErrAuthFailed", err)
	}
}

func TestVerifyTokenEmpty(t *testing.T) {
	v := NewVerifier(Config{AuthURL: "http://unused"}, nil)
	_, err := v.VerifyToken(context.Background(), "")
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("err = %v, want ErrAuthFailed", err)
	}
}

func TestVerifyTokenServiceError(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}, "")

	_, err := v.VerifyToken(context.Background(), "any")
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("err = %v, want ErrAuthFailed", err)
	}
}

func TestVerifyMonitorKey(t *testing.T) {
	v := NewVerifier(Config{MonitorKey: "secret"}, nil)
	if !v.VerifyMonitorKey("secret") {
		t.Error("matching key rejected")
	}
	if v.VerifyMonitorKey("wrong") {
		t.Error("wrong key accepted")
	}
	if v.VerifyMonitorKey("") {
		t.Error("empty key accepted")
	}

	disabled := NewVerifier(Config{}, nil)
	if disabled.VerifyMonitorKey("anything") {
		t.Error("monitor access must be disabled without a configured key")
	}
}
