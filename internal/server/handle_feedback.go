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
	"log/slog"

	"github.com/Together-Coding/IDE-Server/internal/meta"
	"github.com/Together-Coding/IDE-Server/internal/perm"
)

// handleFeedbackList returns the feedback roll-up the caller may see.
// With both ownerId and file set, the listing narrows to that file and
// requires READ on the owner's project.
func (s *Server) handleFeedbackList(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		OwnerID int64  `json:"ownerId"`
		File    string `json:"file"`
	}
	if len(req.Data) > 0 {
		if err := req.Bind(&body); err != nil {
			return NewEventError(KindMissingField, "`ownerId` and `file` are malformed.")
		}
	}

	_, lessonID, _ := sess.Lesson()

	ownerFilter := int64(0)
	fileFilter := ""
	if body.OwnerID != 0 && body.File != "" {
		tgt, err := s.resolveTarget(ctx, sess, body.OwnerID, perm.Read)
		if err != nil {
			return err
		}
		ownerFilter = tgt.ptc.ID
		fileFilter = body.File
	}

	listing, err := s.meta.FeedbackForLesson(ctx, lessonID, sess.ParticipantID(), ownerFilter, fileFilter)
	if err != nil {
		return err
	}
	if listing == nil {
		listing = []meta.OwnerRollup{}
	}

	return s.hub.EmitTo(ctx, sess.SID, EventFeedbackList, listing, req.UUID)
}

// handleFeedbackAdd opens a feedback thread on a code location and fans
// the new thread out to every ACL member.
func (s *Server) handleFeedbackAdd(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		Ref struct {
			OwnerID int64  `json:"ownerId"`
			File    string `json:"file"`
			Line    string `json:"line"`
		} `json:"ref"`
		ACL     []int64 `json:"acl"`
		Comment string  `json:"comment"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`ref`, `acl` and `comment` are malformed.")
	}

	tgt, err := s.resolveTarget(ctx, sess, body.Ref.OwnerID, perm.Read)
	if err != nil {
		return err
	}

	courseID, lessonID, _ := sess.Lesson()

	// Drop ACL entries that are not participants of this course.
	viewers, err := s.meta.ParticipantsByIDs(ctx, courseID, body.ACL)
	if err != nil {
		return err
	}
	acl := make([]int64, 0, len(viewers))
	for _, v := range viewers {
		acl = append(acl, v.ID)
	}

	ref, err := s.meta.EnsureCodeRef(ctx, tgt.project.ID, body.Ref.File, body.Ref.Line)
	if err != nil {
		return err
	}
	fb, cm, err := s.meta.CreateFeedbackThread(ctx, ref.ID, sess.ParticipantID(), tgt.ptc.ID, body.Comment, acl)
	if err != nil {
		return err
	}

	members, err := s.meta.FeedbackACL(ctx, fb.ID)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"ref":      ref,
		"feedback": fb,
		"comment":  cm,
		"nickname": sess.Nickname(),
		"acl":      members,
	}
	s.fanOutFeedback(ctx, courseID, lessonID, members, EventFeedbackAdd, payload, req.UUID)
	return nil
}

// handleFeedbackMod updates a thread's ACL and resolved flag, author
// only, then fans the change out to the post-change ACL.
func (s *Server) handleFeedbackMod(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		FeedbackID int64   `json:"feedbackId"`
		ACL        []int64 `json:"acl"`
		Resolved   bool    `json:"resolved"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`feedbackId`, `acl` and `resolved` are malformed.")
	}

	courseID, lessonID, _ := sess.Lesson()

	viewers, err := s.meta.ParticipantsByIDs(ctx, courseID, body.ACL)
	if err != nil {
		return err
	}
	acl := make([]int64, 0, len(viewers))
	for _, v := range viewers {
		acl = append(acl, v.ID)
	}

	granted, revoked, err := s.meta.ModifyFeedback(ctx, body.FeedbackID, sess.ParticipantID(), acl, body.Resolved)
	if err != nil {
		return err
	}

	detail, err := s.meta.FeedbackByID(ctx, body.FeedbackID)
	if err != nil {
		return err
	}
	members, err := s.meta.FeedbackACL(ctx, body.FeedbackID)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"feedback": detail.Feedback,
		"ref":      detail.Ref,
		"acl":      members,
		"granted":  granted,
		"revoked":  revoked,
	}
	s.fanOutFeedback(ctx, courseID, lessonID, members, EventFeedbackMod, payload, req.UUID)
	return nil
}

// handleFeedbackComment appends a comment to a thread the caller belongs
// to and fans it out to the ACL.
func (s *Server) handleFeedbackComment(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		FeedbackID int64  `json:"feedbackId"`
		Content    string `json:"content"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`feedbackId` and `content` are malformed.")
	}

	cm, err := s.meta.CreateComment(ctx, body.FeedbackID, sess.ParticipantID(), body.Content)
	if err != nil {
		return err
	}

	members, err := s.meta.FeedbackACL(ctx, body.FeedbackID)
	if err != nil {
		return err
	}

	courseID, lessonID, _ := sess.Lesson()
	payload := map[string]any{
		"feedbackId": body.FeedbackID,
		"comment":    cm,
		"nickname":   sess.Nickname(),
	}
	s.fanOutFeedback(ctx, courseID, lessonID, members, EventFeedbackComment, payload, req.UUID)
	return nil
}

// handleFeedbackCommentMod edits or soft-deletes a comment, author only,
// then fans the result out to the thread's ACL.
func (s *Server) handleFeedbackCommentMod(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		CommentID int64  `json:"commentId"`
		Content   string `json:"content"`
		Delete    bool   `json:"delete"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`commentId` is malformed.")
	}

	cm, err := s.meta.ModifyComment(ctx, body.CommentID, sess.ParticipantID(), body.Content, body.Delete)
	if err != nil {
		return err
	}

	members, err := s.meta.FeedbackACL(ctx, cm.FeedbackID)
	if err != nil {
		return err
	}

	courseID, lessonID, _ := sess.Lesson()
	payload := map[string]any{
		"feedbackId": cm.FeedbackID,
		"comment":    cm,
	}
	s.fanOutFeedback(ctx, courseID, lessonID, members, EventFeedbackCmtMod, payload, req.UUID)
	return nil
}

// fanOutFeedback emits one payload to every ACL member's personal room.
func (s *Server) fanOutFeedback(ctx context.Context, courseID, lessonID int64, members []int64, event string, payload any, uuid string) {
	for _, ptcID := range members {
		room := personalRoom(courseID, lessonID, ptcID)
		if err := s.hub.Emit(ctx, room, event, payload, uuid); err != nil {
			s.logger.Warn("feedback fan-out failed",
				slog.String("module", "feedback"),
				slog.String("event", event),
				slog.Int64("participant", ptcID),
				slog.String("error", err.Error()))
		}
	}
}
