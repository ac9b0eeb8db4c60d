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

	"github.com/Together-Coding/IDE-Server/internal/meta"
	"github.com/Together-Coding/IDE-Server/internal/perm"
)

// target is a resolved (participant, project) pair the caller is allowed
// to act on.
type target struct {
	ptc     meta.Participant
	project meta.Project
}

// self resolves the caller's own participant record.
func (s *Server) self(ctx context.Context, sess *Session) (meta.Participant, error) {
	ptc, err := s.meta.ParticipantByID(ctx, sess.ParticipantID())
	if err != nil {
		if errors.Is(err, meta.ErrNotFound) {
			return meta.Participant{}, errParticipantNotFound
		}
		return meta.Participant{}, err
	}
	return ptc, nil
}

// resolveTarget resolves targetPtcID within the session's lesson and
// verifies the caller holds all bits of need on the target's project.
// need 0 skips the permission check (self-access always passes).
func (s *Server) resolveTarget(ctx context.Context, sess *Session, targetPtcID int64, need int) (*target, error) {
	courseID, lessonID, _ := sess.Lesson()

	viewer, err := s.self(ctx, sess)
	if err != nil {
		return nil, err
	}

	ptc := viewer
	if targetPtcID != viewer.ID {
		ptc, err = s.meta.ParticipantByID(ctx, targetPtcID)
		if err != nil {
			if errors.Is(err, meta.ErrNotFound) {
				return nil, errParticipantNotFound
			}
			return nil, err
		}
		if ptc.CourseID != courseID {
			return nil, errParticipantNotFound
		}
	}

	project, err := s.meta.ProjectByParticipant(ctx, lessonID, ptc.ID)
	if err != nil {
		if errors.Is(err, meta.ErrNotFound) {
			return nil, errProjectNotFound
		}
		return nil, err
	}

	if ptc.ID != viewer.ID && need != 0 {
		allowed, err := s.perm.Allowed(ctx, viewer.ID, viewer.IsTeacher(), project.ID, ptc.IsTeacher(), need)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, errForbiddenProject
		}
	}

	return &target{ptc: ptc, project: project}, nil
}

// accessibleUser serializes one row of an access listing. Teacher-involved
// pairs with no explicit edge display READ, matching what clients render;
// enforcement still grants teachers full access.
func accessibleUser(e meta.AccessEntry) map[string]any {
	permission := e.Permission
	if !e.HasEdge {
		permission = perm.Read
	}
	return map[string]any{
		"userId":     e.Participant.ID,
		"projectId":  e.Project.ID,
		"nickname":   e.Participant.Nickname,
		"role":       e.Participant.Role,
		"active":     e.Project.Active,
		"permission": permission,
	}
}

// permissionModified serializes one applied permission change for the
// affected viewer's notification.
func permissionModified(ownerPtcID int64, change perm.Change) map[string]any {
	return map[string]any{
		"userId":     change.ViewerID,
		"targetId":   ownerPtcID,
		"permission": change.Permission,
		"added":      change.Added,
		"removed":    change.Removed,
	}
}
