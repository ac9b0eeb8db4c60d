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

	"github.com/Together-Coding/IDE-Server/internal/meta"
	"github.com/Together-Coding/IDE-Server/internal/perm"
	"github.com/Together-Coding/IDE-Server/utils/cache"
)

// handleInitLesson binds the session to a lesson: verifies course
// membership, lazily creates the project, applies the lesson template
// once, enters the room lattice and flips presence on.
func (s *Server) handleInitLesson(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		CourseID int64 `json:"courseId"`
		LessonID int64 `json:"lessonId"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`courseId` and `lessonId` must be numbers.")
	}

	ptc, err := s.meta.ParticipantByUser(ctx, body.CourseID, sess.Principal.UserID)
	if err != nil {
		if errors.Is(err, meta.ErrNotFound) {
			return NewEventError(KindAccessCourseFail, "You are not a participant of the course.")
		}
		return err
	}

	lesson, err := s.meta.LessonByID(ctx, body.LessonID)
	if err != nil || lesson.CourseID != body.CourseID {
		if err != nil && !errors.Is(err, meta.ErrNotFound) {
			return err
		}
		return NewEventError(KindAccessCourseFail, "Lesson does not exist.")
	}

	project, created, err := s.meta.EnsureProject(ctx, lesson.ID, ptc.ID)
	if err != nil {
		return err
	}
	if created {
		s.logger.Info("project created",
			slog.String("module", "lesson"),
			slog.Int64("user", sess.Principal.UserID),
			slog.Int64("participant", ptc.ID),
			slog.Int64("project", project.ID))
	}

	if !project.TemplateApplied {
		// The guard column makes application exactly-once even when the
		// participant connects from several devices at the same time.
		won, err := s.meta.MarkTemplateApplied(ctx, project.ID)
		if err != nil {
			return err
		}
		if won && lesson.TemplateArchiveKey != "" {
			files := s.filesFor(body.CourseID, body.LessonID)
			if err := files.ApplyTemplate(ctx, ptc.ID, lesson.TemplateArchiveKey); err != nil {
				// A missing or broken template archive leaves the project
				// empty; entering the lesson still succeeds.
				s.logger.ErrorContext(ctx, "template application failed",
					slog.String("module", "lesson"),
					slog.Int64("project", project.ID),
					slog.String("error", err.Error()))
			}
		}
	}

	sess.BindLesson(body.CourseID, body.LessonID, ptc.ID, ptc.Nickname)

	s.hub.EnterRoom(sess, RoomLesson, lessonRoom(body.CourseID, body.LessonID), 1)
	s.hub.EnterRoom(sess, RoomPersonal, personalRoom(body.CourseID, body.LessonID, ptc.ID), 1)
	s.hub.EnterRoom(sess, RoomSubs, subsRoom(body.CourseID, body.LessonID, ptc.ID), 0)

	// Auto-subscribe every stream the participant can already read.
	entries, err := s.meta.AccessibleTo(ctx, body.CourseID, body.LessonID, ptc)
	if err != nil {
		s.logger.Warn("failed to auto-subscribe readable projects",
			slog.String("module", "lesson"),
			slog.String("error", err.Error()))
	} else {
		for _, e := range entries {
			if perm.Check(ptc.IsTeacher(), e.Participant.IsTeacher(), e.HasEdge, e.Permission, perm.Read) {
				s.hub.EnterRoom(sess, RoomSubs, subsRoom(body.CourseID, body.LessonID, e.Participant.ID), 0)
			}
		}
	}

	if err := s.meta.TouchProjectActivity(ctx, project.ID); err != nil {
		s.logger.Warn("failed to touch project activity",
			slog.String("module", "lesson"),
			slog.String("error", err.Error()))
	}
	s.setPresence(ctx, body.CourseID, body.LessonID, ptc.ID, true)

	return s.hub.EmitTo(ctx, sess.SID, EventInitLesson, map[string]any{"success": true}, req.UUID)
}

// handleAllParticipant returns the lesson's participants with their
// project summaries, memoized briefly in the shared cache.
func (s *Server) handleAllParticipant(ctx context.Context, sess *Session, req *Request) error {
	courseID, lessonID, _ := sess.Lesson()

	key := cache.Key(cache.LessonScope(courseID, lessonID), "allParticipant")
	listing, err := cache.Memoized(ctx, s.cache, key, func(ctx context.Context) ([]map[string]any, error) {
		rows, err := s.meta.AllParticipants(ctx, courseID, lessonID)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			entry := map[string]any{
				"id":       row.Participant.ID,
				"nickname": row.Participant.Nickname,
				"role":     row.Participant.Role,
				"active":   row.Participant.Active,
			}
			if row.Project != nil {
				entry["project"] = map[string]any{
					"id":               row.Project.ID,
					"active":           row.Project.Active,
					"recentActivityAt": row.Project.RecentActivityAt,
				}
			}
			out = append(out, entry)
		}
		return out, nil
	})
	if err != nil {
		return err
	}

	return s.hub.EmitTo(ctx, sess.SID, EventAllParticipant, map[string]any{"participant": listing}, req.UUID)
}

// handleActivityPing bumps activity on a project. Pinging another
// participant's project requires READ on it.
func (s *Server) handleActivityPing(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		TargetPtcID int64 `json:"targetPtcId"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`targetPtcId` must be a number.")
	}

	courseID, lessonID, _ := sess.Lesson()
	targetID := body.TargetPtcID
	if targetID == 0 {
		targetID = sess.ParticipantID()
	}

	need := 0
	if targetID != sess.ParticipantID() {
		need = perm.Read
	}
	tgt, err := s.resolveTarget(ctx, sess, targetID, need)
	if err != nil {
		return err
	}

	if err := s.meta.TouchProjectActivity(ctx, tgt.project.ID); err != nil {
		return err
	}
	s.setPresence(ctx, courseID, lessonID, tgt.ptc.ID, true)

	return s.hub.EmitTo(ctx, sess.SID, EventActivityPing, "pong", req.UUID)
}
