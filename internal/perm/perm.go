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

// Package perm computes RWX access from a viewer to a target project.
// Student-to-student access requires an explicit ACL edge carrying the
// needed bits; once a teacher is on either side, access defaults to
// allowed and an edge only narrows it.
package perm

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Permission bits.
const (
	Read  = 0b100
	Write = 0b010
	Exec  = 0b001
	All   = Read | Write | Exec
)

// Translate renders a bit set as "R/W/X" for logs.
func Translate(p int) string {
	s := ""
	if p&Read != 0 {
		s += "R"
	}
	if p&Write != 0 {
		s += "W"
	}
	if p&Exec != 0 {
		s += "X"
	}
	if s == "" {
		return "-"
	}
	return s
}

// Check decides access given both roles and the ACL edge state. need may
// combine several bits; all of them must be granted.
func Check(viewerIsTeacher, ownerIsTeacher, edgeExists bool, edgePerm, need int) bool {
	if viewerIsTeacher || ownerIsTeacher {
		// Teacher-involved pairs default to allowed; an explicit edge
		// narrows access to its bits.
		return !edgeExists || edgePerm&need == need
	}
	return edgeExists && edgePerm&need == need
}

// Diff splits a permission transition into its added and removed bits.
// The two sets are disjoint by construction.
func Diff(old, new int) (added, removed int) {
	return new &^ old, old &^ new
}

// Change describes one applied permission modification.
type Change struct {
	ViewerID   int64 `json:"viewerId"`
	ProjectID  int64 `json:"projectId"`
	Permission int   `json:"permission"`
	Added      int   `json:"added"`
	Removed    int   `json:"removed"`
}

// EdgeSource reads ACL edges. *meta.Store satisfies it.
type EdgeSource interface {
	// ViewerEdge returns the permission bits of the (project, viewer)
	// edge and whether the edge exists at all. Absence is distinct from
	// permission 0.
	ViewerEdge(ctx context.Context, projectID, viewerID int64) (int, bool, error)
}

type edgeKey struct {
	projectID int64
	viewerID  int64
}

type cachedEdge struct {
	perm   int
	exists bool
}

// Engine memoizes edge lookups in an in-process expirable LRU. Permission
// writes call Invalidate so a revocation is visible before the TTL runs
// out; the TTL only bounds staleness across instances.
type Engine struct {
	source EdgeSource
	cache  *expirable.LRU[edgeKey, cachedEdge]
}

// Cache sizing. Edges are tiny; the TTL matters more than the capacity.
const (
	edgeCacheSize = 4096
	edgeCacheTTL  = 30 * time.Second
)

// NewEngine creates a permission engine over an edge source.
func NewEngine(source EdgeSource) *Engine {
	return &Engine{
		source: source,
		cache:  expirable.NewLRU[edgeKey, cachedEdge](edgeCacheSize, nil, edgeCacheTTL),
	}
}

// Allowed reports whether the viewer holds all bits of need on the target
// project. Role flags come from the caller, which already resolved both
// participants.
func (e *Engine) Allowed(ctx context.Context, viewerID int64, viewerIsTeacher bool, projectID int64, ownerIsTeacher bool, need int) (bool, error) {
	key := edgeKey{projectID: projectID, viewerID: viewerID}

	edge, ok := e.cache.Get(key)
	if !ok {
		perm, exists, err := e.source.ViewerEdge(ctx, projectID, viewerID)
		if err != nil {
			return false, fmt.Errorf("viewer edge (%d,%d): %w", projectID, viewerID, err)
		}
		edge = cachedEdge{perm: perm, exists: exists}
		e.cache.Add(key, edge)
	}

	return Check(viewerIsTeacher, ownerIsTeacher, edge.exists, edge.perm, need), nil
}

// Invalidate drops the memoized edge for (project, viewer).
func (e *Engine) Invalidate(projectID, viewerID int64) {
	e.cache.Remove(edgeKey{projectID: projectID, viewerID: viewerID})
}

// InvalidateProject drops every memoized edge of one project. Used when
// the owner rewrites several edges at once.
func (e *Engine) InvalidateProject(projectID int64) {
	for _, key := range e.cache.Keys() {
		if key.projectID == projectID {
			e.cache.Remove(key)
		}
	}
}
