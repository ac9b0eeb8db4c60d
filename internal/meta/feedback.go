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

package meta

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotAuthor is returned when a mutation is attempted by someone other
// than the row's author.
var ErrNotAuthor = errors.New("not the author")

// ErrNotInACL is returned when the actor is not a valid member of the
// feedback's ACL.
var ErrNotInACL = errors.New("not in feedback acl")

// EnsureCodeRef returns the live code reference for (project, file, line),
// creating it if absent. A soft-deleted ref on the same anchor is revived
// rather than duplicated.
func (s *Store) EnsureCodeRef(ctx context.Context, projectID int64, file, line string) (CodeReference, error) {
	var ref CodeReference
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, file, line, deleted
		 FROM code_references WHERE project_id = $1 AND file = $2 AND line = $3`,
		projectID, file, line,
	).Scan(&ref.ID, &ref.ProjectID, &ref.File, &ref.Line, &ref.Deleted)
	if err == nil {
		if ref.Deleted {
			if _, err := s.pool.Exec(ctx,
				`UPDATE code_references SET deleted = FALSE WHERE id = $1`, ref.ID,
			); err != nil {
				return CodeReference{}, fmt.Errorf("revive code ref: %w", err)
			}
			ref.Deleted = false
		}
		return ref, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return CodeReference{}, fmt.Errorf("code ref lookup: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO code_references (project_id, file, line)
		 VALUES ($1, $2, $3) RETURNING id`,
		projectID, file, line,
	).Scan(&ref.ID)
	if err != nil {
		return CodeReference{}, fmt.Errorf("create code ref: %w", err)
	}
	ref.ProjectID = projectID
	ref.File = file
	ref.Line = line
	return ref, nil
}

// CreateFeedbackThread opens a feedback thread on a code reference: the
// feedback row, its first comment, and ACL rows for the project owner plus
// every requested viewer, atomically. The author is always on the ACL.
func (s *Store) CreateFeedbackThread(ctx context.Context, refID, authorPtcID, ownerPtcID int64, content string, acl []int64) (Feedback, Comment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Feedback{}, Comment{}, fmt.Errorf("begin feedback tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var fb Feedback
	fb.CodeRefID = refID
	fb.ParticipantID = authorPtcID
	err = tx.QueryRow(ctx,
		`INSERT INTO feedbacks (code_ref_id, participant_id)
		 VALUES ($1, $2) RETURNING id, created_at`,
		refID, authorPtcID,
	).Scan(&fb.ID, &fb.CreatedAt)
	if err != nil {
		return Feedback{}, Comment{}, fmt.Errorf("create feedback: %w", err)
	}

	var cm Comment
	cm.FeedbackID = fb.ID
	cm.ParticipantID = authorPtcID
	cm.Content = content
	err = tx.QueryRow(ctx,
		`INSERT INTO comments (feedback_id, participant_id, content)
		 VALUES ($1, $2, $3) RETURNING id, created_at, updated_at`,
		fb.ID, authorPtcID, content,
	).Scan(&cm.ID, &cm.CreatedAt, &cm.UpdatedAt)
	if err != nil {
		return Feedback{}, Comment{}, fmt.Errorf("create first comment: %w", err)
	}

	members := map[int64]bool{authorPtcID: true, ownerPtcID: true}
	for _, id := range acl {
		members[id] = true
	}
	for id := range members {
		if _, err := tx.Exec(ctx,
			`INSERT INTO feedback_viewers (feedback_id, participant_id, valid)
			 VALUES ($1, $2, TRUE)
			 ON CONFLICT (feedback_id, participant_id) DO UPDATE SET valid = TRUE`,
			fb.ID, id,
		); err != nil {
			return Feedback{}, Comment{}, fmt.Errorf("create feedback viewer: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Feedback{}, Comment{}, fmt.Errorf("commit feedback tx: %w", err)
	}
	return fb, cm, nil
}

// ModifyFeedback updates a thread's ACL and resolved flag. Only the
// thread's author may modify it. ACL changes are soft: members leaving
// the set get valid=FALSE, members joining are inserted or revalidated.
// The returned slices report who gained and who lost access.
func (s *Store) ModifyFeedback(ctx context.Context, feedbackID, actorPtcID int64, acl []int64, resolved bool) (granted, revoked []int64, err error) {
	detail, err := s.FeedbackByID(ctx, feedbackID)
	if err != nil {
		return nil, nil, err
	}
	if detail.Feedback.ParticipantID != actorPtcID {
		return nil, nil, ErrNotAuthor
	}

	current, err := s.FeedbackACL(ctx, feedbackID)
	if err != nil {
		return nil, nil, err
	}
	currentSet := make(map[int64]bool, len(current))
	for _, id := range current {
		currentSet[id] = true
	}
	// Author and project owner stay on the ACL regardless of the request.
	wantSet := map[int64]bool{detail.Feedback.ParticipantID: true, detail.OwnerPtcID: true}
	for _, id := range acl {
		wantSet[id] = true
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin feedback tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for id := range wantSet {
		if currentSet[id] {
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO feedback_viewers (feedback_id, participant_id, valid)
			 VALUES ($1, $2, TRUE)
			 ON CONFLICT (feedback_id, participant_id) DO UPDATE SET valid = TRUE`,
			feedbackID, id,
		); err != nil {
			return nil, nil, fmt.Errorf("grant feedback viewer: %w", err)
		}
		granted = append(granted, id)
	}
	for _, id := range current {
		if wantSet[id] {
			continue
		}
		if _, err := tx.Exec(ctx,
			`UPDATE feedback_viewers SET valid = FALSE
			 WHERE feedback_id = $1 AND participant_id = $2`,
			feedbackID, id,
		); err != nil {
			return nil, nil, fmt.Errorf("revoke feedback viewer: %w", err)
		}
		revoked = append(revoked, id)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE feedbacks SET resolved = $2 WHERE id = $1`,
		feedbackID, resolved,
	); err != nil {
		return nil, nil, fmt.Errorf("update feedback resolved: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit feedback tx: %w", err)
	}
	return granted, revoked, nil
}

// CreateComment appends a comment to a thread the actor belongs to.
func (s *Store) CreateComment(ctx context.Context, feedbackID, actorPtcID int64, content string) (Comment, error) {
	ok, err := s.inACL(ctx, feedbackID, actorPtcID)
	if err != nil {
		return Comment{}, err
	}
	if !ok {
		return Comment{}, ErrNotInACL
	}

	var cm Comment
	cm.FeedbackID = feedbackID
	cm.ParticipantID = actorPtcID
	cm.Content = content
	err = s.pool.QueryRow(ctx,
		`INSERT INTO comments (feedback_id, participant_id, content)
		 VALUES ($1, $2, $3) RETURNING id, created_at, updated_at`,
		feedbackID, actorPtcID, content,
	).Scan(&cm.ID, &cm.CreatedAt, &cm.UpdatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("create comment: %w", err)
	}
	return cm, nil
}

// ModifyComment edits or soft-deletes a comment. Author only. Passing
// remove=true ignores content.
func (s *Store) ModifyComment(ctx context.Context, commentID, actorPtcID int64, content string, remove bool) (Comment, error) {
	cm, err := s.CommentByID(ctx, commentID)
	if err != nil {
		return Comment{}, err
	}
	if cm.ParticipantID != actorPtcID {
		return Comment{}, ErrNotAuthor
	}

	if remove {
		err = s.pool.QueryRow(ctx,
			`UPDATE comments SET deleted = TRUE, updated_at = NOW()
			 WHERE id = $1 RETURNING updated_at`,
			commentID,
		).Scan(&cm.UpdatedAt)
		cm.Deleted = true
	} else {
		err = s.pool.QueryRow(ctx,
			`UPDATE comments SET content = $2, updated_at = NOW()
			 WHERE id = $1 RETURNING updated_at`,
			commentID, content,
		).Scan(&cm.UpdatedAt)
		cm.Content = content
	}
	if err != nil {
		return Comment{}, fmt.Errorf("modify comment: %w", err)
	}
	return cm, nil
}

// FeedbackACL lists the participant ids with a valid ACL edge on the
// thread.
func (s *Store) FeedbackACL(ctx context.Context, feedbackID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT participant_id FROM feedback_viewers
		 WHERE feedback_id = $1 AND valid = TRUE ORDER BY participant_id`,
		feedbackID,
	)
	if err != nil {
		return nil, fmt.Errorf("feedback acl: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan feedback viewer: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) inACL(ctx context.Context, feedbackID, ptcID int64) (bool, error) {
	var valid bool
	err := s.pool.QueryRow(ctx,
		`SELECT valid FROM feedback_viewers
		 WHERE feedback_id = $1 AND participant_id = $2`,
		feedbackID, ptcID,
	).Scan(&valid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("feedback acl membership: %w", err)
	}
	return valid, nil
}

// FeedbackByID loads a thread joined with its reference and owning
// project, enough to authorize a change and route its fan-out.
func (s *Store) FeedbackByID(ctx context.Context, feedbackID int64) (FeedbackDetail, error) {
	var d FeedbackDetail
	err := s.pool.QueryRow(ctx,
		`SELECT f.id, f.code_ref_id, f.participant_id, f.resolved, f.created_at,
		        cr.id, cr.project_id, cr.file, cr.line, cr.deleted,
		        up.participant_id, up.id
		 FROM feedbacks f
		 JOIN code_references cr ON cr.id = f.code_ref_id
		 JOIN user_projects up ON up.id = cr.project_id
		 WHERE f.id = $1`,
		feedbackID,
	).Scan(
		&d.Feedback.ID, &d.Feedback.CodeRefID, &d.Feedback.ParticipantID, &d.Feedback.Resolved, &d.Feedback.CreatedAt,
		&d.Ref.ID, &d.Ref.ProjectID, &d.Ref.File, &d.Ref.Line, &d.Ref.Deleted,
		&d.OwnerPtcID, &d.OwnerProject,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FeedbackDetail{}, fmt.Errorf("%w: feedback %d", ErrNotFound, feedbackID)
		}
		return FeedbackDetail{}, fmt.Errorf("feedback by id: %w", err)
	}
	return d, nil
}

// CommentByID loads one comment.
func (s *Store) CommentByID(ctx context.Context, commentID int64) (Comment, error) {
	var cm Comment
	err := s.pool.QueryRow(ctx,
		`SELECT id, feedback_id, participant_id, content, deleted, created_at, updated_at
		 FROM comments WHERE id = $1`,
		commentID,
	).Scan(&cm.ID, &cm.FeedbackID, &cm.ParticipantID, &cm.Content, &cm.Deleted, &cm.CreatedAt, &cm.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Comment{}, fmt.Errorf("%w: comment %d", ErrNotFound, commentID)
		}
		return Comment{}, fmt.Errorf("comment by id: %w", err)
	}
	return cm, nil
}

// RefRollup is a code reference with its threads, as served by the
// per-lesson feedback listing.
type RefRollup struct {
	Ref       CodeReference    `json:"ref"`
	Feedbacks []FeedbackRollup `json:"feedbacks"`
}

// FeedbackRollup is a thread with its comments and valid ACL.
type FeedbackRollup struct {
	Feedback Feedback  `json:"feedback"`
	ACL      []int64   `json:"acl"`
	Comments []Comment `json:"comments"`
}

// OwnerRollup groups a project owner's references for the listing.
type OwnerRollup struct {
	OwnerPtcID    int64       `json:"ownerId"`
	OwnerNickname string      `json:"ownerNickname"`
	ProjectID     int64       `json:"projectId"`
	Refs          []RefRollup `json:"refs"`
}

// FeedbackForLesson builds the lesson's feedback listing restricted to
// threads the viewer may see, optionally filtered to one owner and one
// file. Soft-deleted comments appear with empty content so thread shape
// survives deletion.
func (s *Store) FeedbackForLesson(ctx context.Context, lessonID, viewerPtcID int64, ownerFilter int64, fileFilter string) ([]OwnerRollup, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT up.participant_id, p.nickname, up.id,
		        cr.id, cr.project_id, cr.file, cr.line, cr.deleted,
		        f.id, f.code_ref_id, f.participant_id, f.resolved, f.created_at,
		        c.id, c.participant_id, c.content, c.deleted, c.created_at, c.updated_at
		 FROM user_projects up
		 JOIN participants p ON p.id = up.participant_id
		 JOIN code_references cr ON cr.project_id = up.id AND cr.deleted = FALSE
		 JOIN feedbacks f ON f.code_ref_id = cr.id
		 JOIN feedback_viewers fv ON fv.feedback_id = f.id
		    AND fv.participant_id = $2 AND fv.valid = TRUE
		 LEFT JOIN comments c ON c.feedback_id = f.id
		 WHERE up.lesson_id = $1
		   AND ($3 = 0 OR up.participant_id = $3)
		   AND ($4 = '' OR cr.file = $4)
		 ORDER BY up.participant_id, cr.id, f.id, c.id`,
		lessonID, viewerPtcID, ownerFilter, fileFilter,
	)
	if err != nil {
		return nil, fmt.Errorf("feedback for lesson: %w", err)
	}
	defer rows.Close()

	var result []OwnerRollup
	for rows.Next() {
		var (
			ownerID   int64
			nickname  string
			projectID int64
			ref       CodeReference
			fb        Feedback
			cmID      *int64
			cmPtc     *int64
			cmContent *string
			cmDeleted *bool
			cmCreated *time.Time
			cmUpdated *time.Time
		)
		if err := rows.Scan(
			&ownerID, &nickname, &projectID,
			&ref.ID, &ref.ProjectID, &ref.File, &ref.Line, &ref.Deleted,
			&fb.ID, &fb.CodeRefID, &fb.ParticipantID, &fb.Resolved, &fb.CreatedAt,
			&cmID, &cmPtc, &cmContent, &cmDeleted, &cmCreated, &cmUpdated,
		); err != nil {
			return nil, fmt.Errorf("scan feedback rollup: %w", err)
		}

		if len(result) == 0 || result[len(result)-1].OwnerPtcID != ownerID {
			result = append(result, OwnerRollup{OwnerPtcID: ownerID, OwnerNickname: nickname, ProjectID: projectID})
		}
		owner := &result[len(result)-1]

		if len(owner.Refs) == 0 || owner.Refs[len(owner.Refs)-1].Ref.ID != ref.ID {
			owner.Refs = append(owner.Refs, RefRollup{Ref: ref})
		}
		refRoll := &owner.Refs[len(owner.Refs)-1]

		if len(refRoll.Feedbacks) == 0 || refRoll.Feedbacks[len(refRoll.Feedbacks)-1].Feedback.ID != fb.ID {
			acl, err := s.FeedbackACL(ctx, fb.ID)
			if err != nil {
				return nil, err
			}
			refRoll.Feedbacks = append(refRoll.Feedbacks, FeedbackRollup{Feedback: fb, ACL: acl})
		}
		fbRoll := &refRoll.Feedbacks[len(refRoll.Feedbacks)-1]

		if cmID != nil {
			cm := Comment{
				ID:            *cmID,
				FeedbackID:    fb.ID,
				ParticipantID: *cmPtc,
				Deleted:       *cmDeleted,
				CreatedAt:     *cmCreated,
				UpdatedAt:     *cmUpdated,
			}
			if !cm.Deleted && cmContent != nil {
				cm.Content = *cmContent
			}
			fbRoll.Comments = append(fbRoll.Comments, cm)
		}
	}
	return result, rows.Err()
}
