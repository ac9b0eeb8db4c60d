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

package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return New(rdb, time.Minute, nil), mr
}

func TestKeyDerivation(t *testing.T) {
	k1 := Key("ptc:7", "checkPerm", 7, 12)
	k2 := Key("ptc:7", "checkPerm", 7, 12)
	k3 := Key("ptc:7", "checkPerm", 7, 13)

	if k1 != k2 {
		t.Errorf("same args must derive same key: %q vs %q", k1, k2)
	}
	if k1 == k3 {
		t.Errorf("different args must derive different keys: %q", k1)
	}
	if !strings.HasPrefix(k1, "_:ptc:7:checkPerm:") {
		t.Errorf("unexpected key shape: %q", k1)
	}
}

func TestScopes(t *testing.T) {
	if got := CourseScope(3); got != "course:3" {
		t.Errorf("CourseScope = %q", got)
	}
	if got := LessonScope(3, 9); got != "lesson:3:9" {
		t.Errorf("LessonScope = %q", got)
	}
	if got := PtcScope(21); got != "ptc:21" {
		t.Errorf("PtcScope = %q", got)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	type summary struct {
		ID     int64  `json:"id"`
		Name   string `json:"name"`
		Active bool   `json:"active"`
	}

	key := Key(LessonScope(1, 2), "allParticipant")
	want := []summary{{ID: 4, Name: "kim", Active: true}, {ID: 5, Name: "lee"}}

	if err := c.Set(ctx, key, want); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got []summary
	hit, err := c.Get(ctx, key, &got)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !hit {
		t.Fatal("expected cache hit")
	}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestGetMiss(t *testing.T) {
	c, _ := setupCache(t)

	var dest int
	hit, err := c.Get(context.Background(), "absent", &dest)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if hit {
		t.Error("expected miss for absent key")
	}
}

func TestDeleteInvalidates(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	key := Key(PtcScope(9), "accessibleTo", 9)
	if err := c.Set(ctx, key, 42); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	var dest int
	hit, err := c.Get(ctx, key, &dest)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if hit {
		t.Error("expected miss after Delete")
	}

	// Deleting missing keys is not an error
	if err := c.Delete(ctx, key, "never-set"); err != nil {
		t.Errorf("Delete of missing keys failed: %v", err)
	}
}

func TestTTLExpiry(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	key := Key(LessonScope(1, 2), "allParticipant")
	if err := c.SetTTL(ctx, key, "v", 10*time.Second); err != nil {
		t.Fatalf("SetTTL failed: %v", err)
	}

	mr.FastForward(11 * time.Second)

	var dest string
	hit, err := c.Get(ctx, key, &dest)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if hit {
		t.Error("expected miss after TTL expiry")
	}
}

func TestMemoizedFillsOnce(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	calls := 0
	fill := func(context.Context) (int, error) {
		calls++
		return 7, nil
	}

	key := Key(PtcScope(1), "checkPerm", 1, 2)

	for i := 0; i < 3; i++ {
		got, err := Memoized(ctx, c, key, fill)
		if err != nil {
			t.Fatalf("Memoized failed: %v", err)
		}
		if got != 7 {
			t.Errorf("Memoized = %d, want 7", got)
		}
	}

	if calls != 1 {
		t.Errorf("fill called %d times, want 1", calls)
	}
}

func TestMemoizedNilCache(t *testing.T) {
	calls := 0
	fill := func(context.Context) (string, error) {
		calls++
		return "direct", nil
	}

	got, err := Memoized(context.Background(), nil, "k", fill)
	if err != nil {
		t.Fatalf("Memoized failed: %v", err)
	}
	if got != "direct" || calls != 1 {
		t.Errorf("nil cache should call fill directly, got %q calls=%d", got, calls)
	}
}
