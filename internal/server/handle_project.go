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

package server

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/Together-Coding/IDE-Server/internal/meta"
	"github.com/Together-Coding/IDE-Server/internal/perm"
	"github.com/Together-Coding/IDE-Server/utils/cache"
)

// handleProjectAccessible returns who the caller can reach and who can
// reach the caller, both memoized per participant.
func (s *Server) handleProjectAccessible(ctx context.Context, sess *Session, req *Request) error {
	courseID, lessonID, _ := sess.Lesson()

	viewer, err := s.self(ctx, sess)
	if err != nil {
		return err
	}
	project, err := s.meta.ProjectByParticipant(ctx, lessonID, viewer.ID)
	if err != nil {
		if errors.Is(err, meta.ErrNotFound) {
			return errProjectNotFound
		}
		return err
	}

	toKey := cache.Key(cache.PtcScope(viewer.ID), "accessibleTo")
	accessibleTo, err := cache.Memoized(ctx, s.cache, toKey, func(ctx context.Context) ([]map[string]any, error) {
		entries, err := s.meta.AccessibleTo(ctx, courseID, lessonID, viewer)
		if err != nil {
			return nil, err
		}
		return serializeAccess(entries), nil
	})
	if err != nil {
		return err
	}

	byKey := cache.Key(cache.PtcScope(viewer.ID), "accessedBy")
	accessedBy, err := cache.Memoized(ctx, s.cache, byKey, func(ctx context.Context) ([]map[string]any, error) {
		entries, err := s.meta.AccessedBy(ctx, courseID, lessonID, viewer, project.ID)
		if err != nil {
			return nil, err
		}
		return serializeAccess(entries), nil
	})
	if err != nil {
		return err
	}

	return s.hub.EmitTo(ctx, sess.SID, EventProjectAccess, map[string]any{
		"accessible_to": accessibleTo,
		"accessed_by":   accessedBy,
	}, req.UUID)
}

func serializeAccess(entries []meta.AccessEntry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, accessibleUser(e))
	}
	return out
}

// handleProjectPerm applies a batch of ACL changes on the caller's own
// project. Viewers losing READ are forced out of the caller's
// subscription room; every affected viewer is notified on their personal
// room.
func (s *Server) handleProjectPerm(ctx context.Context, sess *Session, req *Request) error {
	var body []struct {
		TargetID   int64 `json:"targetId"`
		Permission int   `json:"permission"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "list type is expected.")
	}

	courseID, lessonID, _ := sess.Lesson()

	owner, err := s.self(ctx, sess)
	if err != nil {
		return err
	}
	project, err := s.meta.ProjectByParticipant(ctx, lessonID, owner.ID)
	if err != nil {
		if errors.Is(err, meta.ErrNotFound) {
			return errProjectNotFound
		}
		return err
	}

	myRoom := subsRoom(courseID, lessonID, owner.ID)
	var changes []perm.Change

	for _, d := range body {
		if d.TargetID == owner.ID {
			// Self-grants are ignored.
			continue
		}
		newPerm := d.Permission & perm.All

		old, hasEdge, err := s.meta.ViewerEdge(ctx, project.ID, d.TargetID)
		if err != nil {
			return err
		}
		if hasEdge && old == newPerm {
			continue
		}

		if err := s.meta.UpsertViewerEdge(ctx, project.ID, d.TargetID, newPerm); err != nil {
			return err
		}

		added, removed := perm.Diff(old, newPerm)
		change := perm.Change{
			ViewerID:   d.TargetID,
			ProjectID:  project.ID,
			Permission: newPerm,
			Added:      added,
			Removed:    removed,
		}
		changes = append(changes, change)

		s.perm.Invalidate(project.ID, d.TargetID)
		s.invalidateAccessCache(ctx, d.TargetID)

		if removed&perm.Read != 0 {
			// Revoked readers leave the subscription room right away so
			// the next broadcast no longer reaches them.
			if sid := s.hub.PtcSid(courseID, lessonID, d.TargetID); sid != "" {
				if viewerSess, ok := s.sessions.Get(sid); ok {
					s.hub.ExitRoom(viewerSess, RoomSubs, myRoom)
				}
			}
		}
	}

	if len(changes) > 0 {
		s.invalidateAccessCache(ctx, owner.ID)
	}

	for _, change := range changes {
		room := personalRoom(courseID, lessonID, change.ViewerID)
		if err := s.hub.Emit(ctx, room, EventProjectPermMod, permissionModified(owner.ID, change), req.UUID); err != nil {
			s.logger.Warn("failed to notify permission change",
				slog.String("module", "project"),
				slog.Int64("viewer", change.ViewerID),
				slog.String("error", err.Error()))
		}
	}

	return s.hub.EmitTo(ctx, sess.SID, EventProjectPerm, map[string]any{"message": "Permission changed."}, req.UUID)
}

// handleSubsList returns the participant ids the session subscribes to,
// sorted ascending.
func (s *Server) handleSubsList(ctx context.Context, sess *Session, req *Request) error {
	var ids []int64
	for _, room := range sess.RoomList(RoomSubs) {
		raw := room[strings.LastIndex(room, ":")+1:]
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return s.hub.EmitTo(ctx, sess.SID, EventSubsList, map[string]any{"participant_id": ids}, req.UUID)
}

// handleSubsParticipant subscribes the caller to each readable target,
// reporting per-id success and failure reasons.
func (s *Server) handleSubsParticipant(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		Target []int64 `json:"target"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`target` must be a list of participant IDs.")
	}

	courseID, lessonID, _ := sess.Lesson()

	successID := []int64{}
	failID := []int64{}
	failReason := map[string]string{}

	seen := map[int64]bool{}
	for _, ptcID := range body.Target {
		if seen[ptcID] {
			continue
		}
		seen[ptcID] = true

		_, err := s.resolveTarget(ctx, sess, ptcID, perm.Read)
		if err != nil {
			var ee *EventError
			if errors.As(err, &ee) {
				failID = append(failID, ptcID)
				failReason[strconv.FormatInt(ptcID, 10)] = strings.Join(ee.Messages, " ")
				continue
			}
			return err
		}

		s.hub.EnterRoom(sess, RoomSubs, subsRoom(courseID, lessonID, ptcID), 0)
		successID = append(successID, ptcID)
	}

	return s.hub.EmitTo(ctx, sess.SID, EventSubsParticipant, map[string]any{
		"success_id":  successID,
		"fail_id":     failID,
		"fail_reason": failReason,
	}, req.UUID)
}

// handleUnsubsParticipant leaves the given subscription rooms. The
// caller's own stream cannot be unsubscribed.
func (s *Server) handleUnsubsParticipant(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		Target []int64 `json:"target"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`target` must be a list of participant IDs.")
	}

	courseID, lessonID, _ := sess.Lesson()

	for _, ptcID := range body.Target {
		if ptcID == sess.ParticipantID() {
			continue
		}
		s.hub.ExitRoom(sess, RoomSubs, subsRoom(courseID, lessonID, ptcID))
	}

	return s.hub.EmitTo(ctx, sess.SID, EventUnsubsPtc, map[string]any{"success": true}, req.UUID)
}
