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
	"encoding/json"
	"fmt"

	"github.com/Together-Coding/IDE-Server/internal/perm"
)

// handleCursorLast returns the caller's previously saved cursor on the
// owner's file.
func (s *Server) handleCursorLast(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		OwnerID int64  `json:"ownerId"`
		File    string `json:"file"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`ownerId` and `file` are malformed.")
	}

	tgt, err := s.resolveTarget(ctx, sess, body.OwnerID, perm.Read)
	if err != nil {
		return err
	}

	courseID, lessonID, _ := sess.Lesson()
	cursor, err := s.filesFor(courseID, lessonID).LastCursor(ctx, sess.ParticipantID(), tgt.ptc.ID, body.File)
	if err != nil {
		return err
	}

	return s.hub.EmitTo(ctx, sess.SID, EventCursorLast, map[string]any{
		"ownerId": body.OwnerID,
		"file":    body.File,
		"cursor":  cursor,
	}, req.UUID)
}

// handleCursorMove broadcasts the caller's cursor position to the owner's
// subscribers and persists it as the last cursor. An "open" event only
// broadcasts; the stored cursor keeps its previous value.
func (s *Server) handleCursorMove(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		FileInfo  json.RawMessage `json:"fileInfo"`
		Timestamp json.RawMessage `json:"timestamp"`
		Event     string          `json:"event"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`fileInfo` must be an object type.")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body.FileInfo, &fields); err != nil {
		return NewEventError(KindMissingField, "`fileInfo` must be an object type.")
	}
	var missing []string
	for _, key := range []string{"ownerId", "file", "line", "cursor"} {
		if _, ok := fields[key]; !ok {
			missing = append(missing, fmt.Sprintf("`fileInfo.%s` is required.", key))
		}
	}
	if len(missing) > 0 {
		return NewEventError(KindMissingField, missing...)
	}

	var fileInfo struct {
		OwnerID int64           `json:"ownerId"`
		File    string          `json:"file"`
		Line    json.RawMessage `json:"line"`
		Cursor  string          `json:"cursor"`
	}
	if err := json.Unmarshal(body.FileInfo, &fileInfo); err != nil {
		return NewEventError(KindMissingField, "`fileInfo` must be an object type.")
	}

	tgt, err := s.resolveTarget(ctx, sess, fileInfo.OwnerID, perm.Read)
	if err != nil {
		return err
	}

	courseID, lessonID, _ := sess.Lesson()
	if err := s.hub.Emit(ctx, subsRoom(courseID, lessonID, tgt.ptc.ID), EventCursorMove, map[string]any{
		"userId":   sess.ParticipantID(),
		"nickname": sess.Nickname(),
		"fileInfo": map[string]any{
			"ownerId": fileInfo.OwnerID,
			"file":    fileInfo.File,
			"line":    fileInfo.Line,
			"cursor":  fileInfo.Cursor,
		},
		"timestamp": body.Timestamp,
	}, req.UUID); err != nil {
		return err
	}

	if body.Event == "open" {
		return nil
	}
	return s.filesFor(courseID, lessonID).SetLastCursor(ctx, sess.ParticipantID(), tgt.ptc.ID, fileInfo.File, fileInfo.Cursor)
}
