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

// Package meta provides typed access to the durable relational store:
// participants, lessons, projects, viewer ACLs, code references, feedback
// and comments. It owns SQL; callers see structs and sentinel errors.
package meta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// DBPool is the subset of pgxpool.Pool the store uses.
type DBPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the metadata store handle. Construct once and share.
type Store struct {
	pool   DBPool
	logger *slog.Logger
}

// NewStore creates a metadata store over a connection pool.
func NewStore(pool DBPool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// ParticipantByUser resolves the participant of (course, user).
func (s *Store) ParticipantByUser(ctx context.Context, courseID, userID int64) (Participant, error) {
	var p Participant
	err := s.pool.QueryRow(ctx,
		`SELECT id, course_id, user_id, role, nickname, active
		 FROM participants WHERE course_id = $1 AND user_id = $2`,
		courseID, userID,
	).Scan(&p.ID, &p.CourseID, &p.UserID, &p.Role, &p.Nickname, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Participant{}, fmt.Errorf("%w: participant of user %d in course %d", ErrNotFound, userID, courseID)
		}
		return Participant{}, fmt.Errorf("participant by user: %w", err)
	}
	return p, nil
}

// ParticipantByID resolves a participant by id.
func (s *Store) ParticipantByID(ctx context.Context, ptcID int64) (Participant, error) {
	var p Participant
	err := s.pool.QueryRow(ctx,
		`SELECT id, course_id, user_id, role, nickname, active
		 FROM participants WHERE id = $1`,
		ptcID,
	).Scan(&p.ID, &p.CourseID, &p.UserID, &p.Role, &p.Nickname, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Participant{}, fmt.Errorf("%w: participant %d", ErrNotFound, ptcID)
		}
		return Participant{}, fmt.Errorf("participant by id: %w", err)
	}
	return p, nil
}

// ParticipantsByIDs returns the course's participants among ids, silently
// dropping ids that do not belong to the course.
func (s *Store) ParticipantsByIDs(ctx context.Context, courseID int64, ids []int64) ([]Participant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, course_id, user_id, role, nickname, active
		 FROM participants WHERE course_id = $1 AND id = ANY($2)`,
		courseID, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("participants by ids: %w", err)
	}
	defer rows.Close()

	var ptcs []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.CourseID, &p.UserID, &p.Role, &p.Nickname, &p.Active); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		ptcs = append(ptcs, p)
	}
	return ptcs, rows.Err()
}

// SetParticipantActive flips the presence flag and reports whether the
// value actually changed. The conditional write makes the flip observable
// exactly once even with racing sessions.
func (s *Store) SetParticipantActive(ctx context.Context, ptcID int64, active bool) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE participants SET active = $2 WHERE id = $1 AND active <> $2`,
		ptcID, active,
	)
	if err != nil {
		return false, fmt.Errorf("set participant active: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// LessonByID resolves a lesson.
func (s *Store) LessonByID(ctx context.Context, lessonID int64) (Lesson, error) {
	var l Lesson
	var archiveKey *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, course_id, template_archive_key FROM lessons WHERE id = $1`,
		lessonID,
	).Scan(&l.ID, &l.CourseID, &archiveKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lesson{}, fmt.Errorf("%w: lesson %d", ErrNotFound, lessonID)
		}
		return Lesson{}, fmt.Errorf("lesson by id: %w", err)
	}
	if archiveKey != nil {
		l.TemplateArchiveKey = *archiveKey
	}
	return l, nil
}

// ProjectByParticipant resolves a participant's project in a lesson.
func (s *Store) ProjectByParticipant(ctx context.Context, lessonID, ptcID int64) (Project, error) {
	var p Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, lesson_id, participant_id, recent_activity_at, active, template_applied
		 FROM user_projects WHERE lesson_id = $1 AND participant_id = $2`,
		lessonID, ptcID,
	).Scan(&p.ID, &p.LessonID, &p.ParticipantID, &p.RecentActivityAt, &p.Active, &p.TemplateApplied)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, fmt.Errorf("%w: project of participant %d in lesson %d", ErrNotFound, ptcID, lessonID)
		}
		return Project{}, fmt.Errorf("project by participant: %w", err)
	}
	return p, nil
}

// EnsureProject returns the participant's project, creating it on first
// lesson entry. The boolean reports creation.
func (s *Store) EnsureProject(ctx context.Context, lessonID, ptcID int64) (Project, bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO user_projects (lesson_id, participant_id)
		 VALUES ($1, $2) ON CONFLICT (lesson_id, participant_id) DO NOTHING`,
		lessonID, ptcID,
	)
	if err != nil {
		return Project{}, false, fmt.Errorf("ensure project: %w", err)
	}
	project, err := s.ProjectByParticipant(ctx, lessonID, ptcID)
	if err != nil {
		return Project{}, false, err
	}
	return project, tag.RowsAffected() > 0, nil
}

// MarkTemplateApplied flips the template guard and reports whether this
// caller won. At most one caller per project ever sees true.
func (s *Store) MarkTemplateApplied(ctx context.Context, projectID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_projects SET template_applied = TRUE
		 WHERE id = $1 AND template_applied = FALSE`,
		projectID,
	)
	if err != nil {
		return false, fmt.Errorf("mark template applied: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// TouchProjectActivity bumps recent_activity_at and marks the project
// active.
func (s *Store) TouchProjectActivity(ctx context.Context, projectID int64) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE user_projects SET recent_activity_at = NOW(), active = TRUE WHERE id = $1`,
		projectID,
	); err != nil {
		return fmt.Errorf("touch project activity: %w", err)
	}
	return nil
}

// SetProjectActive mirrors the participant presence flag on the project.
func (s *Store) SetProjectActive(ctx context.Context, projectID int64, active bool) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE user_projects SET active = $2 WHERE id = $1 AND active <> $2`,
		projectID, active,
	); err != nil {
		return fmt.Errorf("set project active: %w", err)
	}
	return nil
}

// ViewerEdge reads the ACL edge of (project, viewer). The boolean reports
// edge existence; permission 0 with an existing edge is an explicit deny.
func (s *Store) ViewerEdge(ctx context.Context, projectID, viewerID int64) (int, bool, error) {
	var permission int
	err := s.pool.QueryRow(ctx,
		`SELECT permission FROM project_viewers WHERE project_id = $1 AND viewer_id = $2`,
		projectID, viewerID,
	).Scan(&permission)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("viewer edge: %w", err)
	}
	return permission, true, nil
}

// UpsertViewerEdge writes the ACL edge of (project, viewer).
func (s *Store) UpsertViewerEdge(ctx context.Context, projectID, viewerID int64, permission int) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO project_viewers (project_id, viewer_id, permission)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (project_id, viewer_id) DO UPDATE SET permission = EXCLUDED.permission`,
		projectID, viewerID, permission,
	); err != nil {
		return fmt.Errorf("upsert viewer edge: %w", err)
	}
	return nil
}

// AllParticipants lists the course's participants with their project in
// the lesson, if created.
func (s *Store) AllParticipants(ctx context.Context, courseID, lessonID int64) ([]ParticipantProject, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.course_id, p.user_id, p.role, p.nickname, p.active,
		        up.id, up.lesson_id, up.participant_id, up.recent_activity_at, up.active, up.template_applied
		 FROM participants p
		 LEFT JOIN user_projects up ON up.participant_id = p.id AND up.lesson_id = $2
		 WHERE p.course_id = $1
		 ORDER BY p.id`,
		courseID, lessonID,
	)
	if err != nil {
		return nil, fmt.Errorf("all participants: %w", err)
	}
	defer rows.Close()

	var result []ParticipantProject
	for rows.Next() {
		var pp ParticipantProject
		var proj nullableProject
		if err := rows.Scan(
			&pp.Participant.ID, &pp.Participant.CourseID, &pp.Participant.UserID,
			&pp.Participant.Role, &pp.Participant.Nickname, &pp.Participant.Active,
			&proj.ID, &proj.LessonID, &proj.ParticipantID, &proj.RecentActivityAt, &proj.Active, &proj.TemplateApplied,
		); err != nil {
			return nil, fmt.Errorf("scan participant project: %w", err)
		}
		pp.Project = proj.value()
		result = append(result, pp)
	}
	return result, rows.Err()
}

// AccessibleTo lists the projects the viewer can reach. Teachers see every
// other participant of the course; students see projects with an explicit
// edge plus every teacher.
func (s *Store) AccessibleTo(ctx context.Context, courseID, lessonID int64, viewer Participant) ([]AccessEntry, error) {
	var rows pgx.Rows
	var err error
	if viewer.IsTeacher() {
		rows, err = s.pool.Query(ctx,
			`SELECT p.id, p.course_id, p.user_id, p.role, p.nickname, p.active,
			        up.id, up.lesson_id, up.participant_id, up.recent_activity_at, up.active, up.template_applied,
			        pv.permission
			 FROM participants p
			 JOIN user_projects up ON up.participant_id = p.id AND up.lesson_id = $2
			 LEFT JOIN project_viewers pv ON pv.project_id = up.id AND pv.viewer_id = $3
			 WHERE p.course_id = $1 AND p.id <> $3
			 ORDER BY p.id`,
			courseID, lessonID, viewer.ID,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT p.id, p.course_id, p.user_id, p.role, p.nickname, p.active,
			        up.id, up.lesson_id, up.participant_id, up.recent_activity_at, up.active, up.template_applied,
			        pv.permission
			 FROM participants p
			 JOIN user_projects up ON up.participant_id = p.id AND up.lesson_id = $2
			 LEFT JOIN project_viewers pv ON pv.project_id = up.id AND pv.viewer_id = $3
			 WHERE p.course_id = $1 AND p.id <> $3
			   AND (pv.viewer_id IS NOT NULL OR p.role = 'TEACHER')
			 ORDER BY p.id`,
			courseID, lessonID, viewer.ID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("accessible to: %w", err)
	}
	return scanAccessEntries(rows)
}

// AccessedBy lists who can reach the owner's project: every other
// participant for teachers, explicit viewers plus teachers for students.
func (s *Store) AccessedBy(ctx context.Context, courseID, lessonID int64, owner Participant, ownerProjectID int64) ([]AccessEntry, error) {
	var rows pgx.Rows
	var err error
	if owner.IsTeacher() {
		rows, err = s.pool.Query(ctx,
			`SELECT p.id, p.course_id, p.user_id, p.role, p.nickname, p.active,
			        up.id, up.lesson_id, up.participant_id, up.recent_activity_at, up.active, up.template_applied,
			        pv.permission
			 FROM participants p
			 LEFT JOIN user_projects up ON up.participant_id = p.id AND up.lesson_id = $2
			 LEFT JOIN project_viewers pv ON pv.project_id = $4 AND pv.viewer_id = p.id
			 WHERE p.course_id = $1 AND p.id <> $3
			 ORDER BY p.id`,
			courseID, lessonID, owner.ID, ownerProjectID,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT p.id, p.course_id, p.user_id, p.role, p.nickname, p.active,
			        up.id, up.lesson_id, up.participant_id, up.recent_activity_at, up.active, up.template_applied,
			        pv.permission
			 FROM participants p
			 LEFT JOIN user_projects up ON up.participant_id = p.id AND up.lesson_id = $2
			 LEFT JOIN project_viewers pv ON pv.project_id = $4 AND pv.viewer_id = p.id
			 WHERE p.course_id = $1 AND p.id <> $3
			   AND (pv.viewer_id IS NOT NULL OR p.role = 'TEACHER')
			 ORDER BY p.id`,
			courseID, lessonID, owner.ID, ownerProjectID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("accessed by: %w", err)
	}
	return scanAccessEntries(rows)
}

// nullableProject scans a LEFT JOINed project row.
type nullableProject struct {
	ID               *int64
	LessonID         *int64
	ParticipantID    *int64
	RecentActivityAt *time.Time
	Active           *bool
	TemplateApplied  *bool
}

func (n *nullableProject) value() *Project {
	if n.ID == nil {
		return nil
	}
	p := &Project{
		ID:              *n.ID,
		LessonID:        *n.LessonID,
		ParticipantID:   *n.ParticipantID,
		Active:          n.Active != nil && *n.Active,
		TemplateApplied: n.TemplateApplied != nil && *n.TemplateApplied,
	}
	if n.RecentActivityAt != nil {
		p.RecentActivityAt = *n.RecentActivityAt
	}
	return p
}

func scanAccessEntries(rows pgx.Rows) ([]AccessEntry, error) {
	defer rows.Close()

	var entries []AccessEntry
	for rows.Next() {
		var e AccessEntry
		var proj nullableProject
		var permission *int
		if err := rows.Scan(
			&e.Participant.ID, &e.Participant.CourseID, &e.Participant.UserID,
			&e.Participant.Role, &e.Participant.Nickname, &e.Participant.Active,
			&proj.ID, &proj.LessonID, &proj.ParticipantID, &proj.RecentActivityAt, &proj.Active, &proj.TemplateApplied,
			&permission,
		); err != nil {
			return nil, fmt.Errorf("scan access entry: %w", err)
		}
		if p := proj.value(); p != nil {
			e.Project = *p
		}
		if permission != nil {
			e.Permission = *permission
			e.HasEdge = true
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RenameCodeRefs rewrites code references pointing at a renamed file.
func (s *Store) RenameCodeRefs(ctx context.Context, projectID int64, oldFile, newFile string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE code_references SET file = $3
		 WHERE project_id = $1 AND file = $2 AND deleted = FALSE`,
		projectID, oldFile, newFile,
	); err != nil {
		return fmt.Errorf("rename code refs: %w", err)
	}
	return nil
}

// DeleteCodeRefs soft-deletes code references of a removed file.
func (s *Store) DeleteCodeRefs(ctx context.Context, projectID int64, file string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE code_references SET deleted = TRUE
		 WHERE project_id = $1 AND file = $2 AND deleted = FALSE`,
		projectID, file,
	); err != nil {
		return fmt.Errorf("delete code refs: %w", err)
	}
	return nil
}
