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

package perm

import (
	"context"
	"testing"
)

func TestCheckStudentPairs(t *testing.T) {
	tests := []struct {
		name       string
		edgeExists bool
		edgePerm   int
		need       int
		want       bool
	}{
		{"no edge denies", false, 0, Read, false},
		{"edge with bit allows", true, Read, Read, true},
		{"edge without bit denies", true, Read, Write, false},
		{"edge zero denies", true, 0, Read, false},
		{"combined need requires all bits", true, Read, Read | Write, false},
		{"combined need satisfied", true, Read | Write, Read | Write, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Check(false, false, tt.edgeExists, tt.edgePerm, tt.need)
			if got != tt.want {
				t.Errorf("Check = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckTeacherPairs(t *testing.T) {
	// Either side being a teacher defaults to allow without an edge.
	if !Check(true, false, false, 0, All) {
		t.Errorf("teacher viewer without edge must be allowed")
	}
	if !Check(false, true, false, 0, All) {
		t.Errorf("teacher-owned project without edge must be allowed")
	}
	// An explicit edge narrows even teacher access.
	if Check(true, false, true, Read, Write) {
		t.Errorf("explicit edge must narrow teacher access")
	}
	if !Check(false, true, true, Read|Write, Write) {
		t.Errorf("edge containing the needed bit must allow")
	}
}

// Monotonicity: allowed(need) and sub ⊆ need implies allowed(sub).
func TestCheckMonotone(t *testing.T) {
	for _, vt := range []bool{false, true} {
		for _, ot := range []bool{false, true} {
			for _, exists := range []bool{false, true} {
				for edge := 0; edge <= All; edge++ {
					for need := 0; need <= All; need++ {
						if !Check(vt, ot, exists, edge, need) {
							continue
						}
						for sub := 0; sub <= All; sub++ {
							if sub&need != sub {
								continue
							}
							if !Check(vt, ot, exists, edge, sub) {
								t.Fatalf("not monotone: vt=%v ot=%v exists=%v edge=%b need=%b sub=%b",
									vt, ot, exists, edge, need, sub)
							}
						}
					}
				}
			}
		}
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		old, new       int
		added, removed int
	}{
		{0, Read, Read, 0},
		{Read, 0, 0, Read},
		{Read, Read | Write, Write, 0},
		{Read | Write, Write | Exec, Exec, Read},
		{All, All, 0, 0},
	}
	for _, tt := range tests {
		added, removed := Diff(tt.old, tt.new)
		if added != tt.added || removed != tt.removed {
			t.Errorf("Diff(%b,%b) = (%b,%b), want (%b,%b)",
				tt.old, tt.new, added, removed, tt.added, tt.removed)
		}
		if added&removed != 0 {
			t.Errorf("Diff(%b,%b): added and removed overlap", tt.old, tt.new)
		}
	}
}

func TestTranslate(t *testing.T) {
	if got := Translate(All); got != "RWX" {
		t.Errorf("Translate(All) = %q", got)
	}
	if got := Translate(0); got != "-" {
		t.Errorf("Translate(0) = %q", got)
	}
	if got := Translate(Read | Exec); got != "RX" {
		t.Errorf("Translate(R|X) = %q", got)
	}
}

// countingSource records lookups so caching behavior is observable.
type countingSource struct {
	edges map[edgeKey]cachedEdge
	calls int
}

func (c *countingSource) ViewerEdge(_ context.Context, projectID, viewerID int64) (int, bool, error) {
	c.calls++
	e, ok := c.edges[edgeKey{projectID: projectID, viewerID: viewerID}]
	if !ok {
		return 0, false, nil
	}
	return e.perm, e.exists, nil
}

func TestEngineMemoizesEdges(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{edges: map[edgeKey]cachedEdge{
		{projectID: 1, viewerID: 2}: {perm: Read, exists: true},
	}}
	eng := NewEngine(src)

	for i := 0; i < 3; i++ {
		ok, err := eng.Allowed(ctx, 2, false, 1, false, Read)
		if err != nil || !ok {
			t.Fatalf("Allowed = %v, %v", ok, err)
		}
	}
	if src.calls != 1 {
		t.Errorf("edge fetched %d times, want 1", src.calls)
	}
}

func TestEngineInvalidate(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{edges: map[edgeKey]cachedEdge{
		{projectID: 1, viewerID: 2}: {perm: Read, exists: true},
	}}
	eng := NewEngine(src)

	if ok, _ := eng.Allowed(ctx, 2, false, 1, false, Read); !ok {
		t.Fatal("expected allow")
	}

	// Revoke and invalidate: the next check sees the new edge.
	src.edges[edgeKey{projectID: 1, viewerID: 2}] = cachedEdge{perm: 0, exists: true}
	eng.Invalidate(1, 2)

	if ok, _ := eng.Allowed(ctx, 2, false, 1, false, Read); ok {
		t.Errorf("revoked edge still allowed")
	}
	if src.calls != 2 {
		t.Errorf("edge fetched %d times, want 2", src.calls)
	}
}

func TestEngineInvalidateProject(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{edges: map[edgeKey]cachedEdge{
		{projectID: 1, viewerID: 2}: {perm: Read, exists: true},
		{projectID: 1, viewerID: 3}: {perm: Read, exists: true},
		{projectID: 9, viewerID: 2}: {perm: Read, exists: true},
	}}
	eng := NewEngine(src)

	for _, viewer := range []int64{2, 3} {
		if ok, _ := eng.Allowed(ctx, viewer, false, 1, false, Read); !ok {
			t.Fatal("expected allow")
		}
	}
	if ok, _ := eng.Allowed(ctx, 2, false, 9, false, Read); !ok {
		t.Fatal("expected allow")
	}

	eng.InvalidateProject(1)
	calls := src.calls

	// Project 1 edges refetch, project 9 stays cached.
	eng.Allowed(ctx, 2, false, 1, false, Read)
	eng.Allowed(ctx, 3, false, 1, false, Read)
	eng.Allowed(ctx, 2, false, 9, false, Read)
	if src.calls != calls+2 {
		t.Errorf("expected 2 refetches, got %d", src.calls-calls)
	}
}
