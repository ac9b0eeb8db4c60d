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
	"log/slog"
	"strings"

	"github.com/Together-Coding/IDE-Server/internal/perm"
)

const (
	typeFile      = "file"
	typeDirectory = "directory"
)

// handleDirInfo returns the target's file listing, rehydrating from the
// cold tier when hot-tier content was evicted.
func (s *Server) handleDirInfo(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		TargetID int64 `json:"targetId"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`targetId` must be a number.")
	}

	tgt, err := s.resolveTarget(ctx, sess, body.TargetID, perm.Read)
	if err != nil {
		return err
	}

	courseID, lessonID, _ := sess.Lesson()
	files := s.filesFor(courseID, lessonID)

	listing, err := files.List(ctx, tgt.ptc.ID, true)
	if err != nil {
		return err
	}
	if listing == nil {
		if err := files.RehydrateProject(ctx, tgt.ptc.ID, 0); err != nil {
			return err
		}
		listing, err = files.List(ctx, tgt.ptc.ID, false)
		if err != nil {
			return err
		}
	}

	return s.hub.EmitTo(ctx, sess.SID, EventDirInfo, map[string]any{"file": listing}, req.UUID)
}

// handleFileRead returns one file's content.
func (s *Server) handleFileRead(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		OwnerID int64  `json:"ownerId"`
		File    string `json:"file"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`ownerId` and `file` are malformed.")
	}
	file := strings.Trim(body.File, "/")

	tgt, err := s.resolveTarget(ctx, sess, body.OwnerID, perm.Read)
	if err != nil {
		return err
	}

	courseID, lessonID, _ := sess.Lesson()
	content, err := s.filesFor(courseID, lessonID).GetContent(ctx, tgt.ptc.ID, file)
	if err != nil {
		return err
	}

	return s.hub.EmitTo(ctx, sess.SID, EventFileRead, map[string]any{
		"ownerId": body.OwnerID,
		"file":    file,
		"content": content,
	}, req.UUID)
}

// handleFileCreate creates a file or directory and broadcasts the change
// to the owner's subscribers.
func (s *Server) handleFileCreate(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		OwnerID int64  `json:"ownerId"`
		Type    string `json:"type"`
		Name    string `json:"name"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`ownerId`, `type` and `name` are malformed.")
	}
	name := strings.Trim(body.Name, "/")

	tgt, err := s.resolveTarget(ctx, sess, body.OwnerID, perm.Read|perm.Write)
	if err != nil {
		return err
	}

	courseID, lessonID, _ := sess.Lesson()
	files := s.filesFor(courseID, lessonID)

	switch body.Type {
	case typeDirectory:
		exists, err := files.HasDirectory(ctx, tgt.ptc.ID, name)
		if err != nil {
			return err
		}
		if exists {
			return NewEventError(KindFileExists, "Directory already exists.")
		}
		if err := files.MarkDirectory(ctx, tgt.ptc.ID, name); err != nil {
			return err
		}
	default:
		if err := files.Create(ctx, tgt.ptc.ID, name, "", true); err != nil {
			return err
		}
	}

	return s.hub.Emit(ctx, subsRoom(courseID, lessonID, tgt.ptc.ID), EventFileCreate, map[string]any{
		"type": body.Type,
		"name": name,
	}, req.UUID)
}

// handleFileUpdate renames a file or directory, rewrites code references
// pointing into it and broadcasts to the owner's subscribers.
func (s *Server) handleFileUpdate(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		OwnerID int64  `json:"ownerId"`
		Type    string `json:"type"`
		Name    string `json:"name"`
		Rename  string `json:"rename"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`ownerId`, `type`, `name` and `rename` are malformed.")
	}
	name := strings.Trim(body.Name, "/")
	rename := strings.Trim(body.Rename, "/")

	tgt, err := s.resolveTarget(ctx, sess, body.OwnerID, perm.Read|perm.Write)
	if err != nil {
		return err
	}

	courseID, lessonID, _ := sess.Lesson()
	files := s.filesFor(courseID, lessonID)

	if body.Type == typeDirectory {
		moved, err := files.RenameDirectory(ctx, tgt.ptc.ID, name, rename)
		if err != nil {
			return err
		}
		for _, pair := range moved {
			if err := s.meta.RenameCodeRefs(ctx, tgt.project.ID, pair[0], pair[1]); err != nil {
				s.logger.Warn("failed to rewrite code references",
					slog.String("module", "file"),
					slog.String("file", pair[0]),
					slog.String("error", err.Error()))
			}
		}
	} else {
		if err := files.Rename(ctx, tgt.ptc.ID, name, rename); err != nil {
			return err
		}
		if err := s.meta.RenameCodeRefs(ctx, tgt.project.ID, name, rename); err != nil {
			s.logger.Warn("failed to rewrite code references",
				slog.String("module", "file"),
				slog.String("file", name),
				slog.String("error", err.Error()))
		}
	}

	return s.hub.Emit(ctx, subsRoom(courseID, lessonID, tgt.ptc.ID), EventFileUpdate, map[string]any{
		"ownerId": body.OwnerID,
		"type":    body.Type,
		"name":    name,
		"rename":  rename,
	}, req.UUID)
}

// handleFileDelete deletes a file or directory, soft-deletes referencing
// code references and broadcasts to the owner's subscribers.
func (s *Server) handleFileDelete(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		OwnerID int64  `json:"ownerId"`
		Type    string `json:"type"`
		Name    string `json:"name"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`ownerId`, `type` and `name` are malformed.")
	}
	name := strings.Trim(body.Name, "/")

	tgt, err := s.resolveTarget(ctx, sess, body.OwnerID, perm.Read|perm.Write)
	if err != nil {
		return err
	}

	courseID, lessonID, _ := sess.Lesson()
	files := s.filesFor(courseID, lessonID)

	var removed []string
	if body.Type == typeDirectory {
		removed, err = files.DeleteDirectory(ctx, tgt.ptc.ID, name)
		if err != nil {
			return err
		}
	} else {
		if err := files.Delete(ctx, tgt.ptc.ID, name); err != nil {
			return err
		}
		removed = []string{name}
	}

	for _, file := range removed {
		if err := s.meta.DeleteCodeRefs(ctx, tgt.project.ID, file); err != nil {
			s.logger.Warn("failed to soft-delete code references",
				slog.String("module", "file"),
				slog.String("file", file),
				slog.String("error", err.Error()))
		}
	}

	return s.hub.Emit(ctx, subsRoom(courseID, lessonID, tgt.ptc.ID), EventFileDelete, map[string]any{
		"ownerId": body.OwnerID,
		"type":    body.Type,
		"name":    name,
	}, req.UUID)
}

// handleFileMod broadcasts a live edit delta to the owner's subscribers.
// The delta is opaque; no state is mutated.
func (s *Server) handleFileMod(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		OwnerID   int64           `json:"ownerId"`
		File      string          `json:"file"`
		Cursor    json.RawMessage `json:"cursor"`
		Change    json.RawMessage `json:"change"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`ownerId`, `file`, `cursor`, `change` and `timestamp` are malformed.")
	}

	tgt, err := s.resolveTarget(ctx, sess, body.OwnerID, perm.Read|perm.Write)
	if err != nil {
		return err
	}

	courseID, lessonID, _ := sess.Lesson()
	return s.hub.Emit(ctx, subsRoom(courseID, lessonID, tgt.ptc.ID), EventFileMod, map[string]any{
		"ptcId":     sess.ParticipantID(),
		"nickname":  sess.Nickname(),
		"ownerId":   body.OwnerID,
		"file":      body.File,
		"cursor":    body.Cursor,
		"change":    body.Change,
		"timestamp": body.Timestamp,
	}, req.UUID)
}

// handleFileSave persists file content and acknowledges to the owner's
// subscribers. Saves are last-writer-wins.
func (s *Server) handleFileSave(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		OwnerID int64  `json:"ownerId"`
		File    string `json:"file"`
		Content string `json:"content"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`ownerId`, `file` and `content` are malformed.")
	}
	file := strings.Trim(body.File, "/")

	tgt, err := s.resolveTarget(ctx, sess, body.OwnerID, perm.Read|perm.Write)
	if err != nil {
		return err
	}

	courseID, lessonID, _ := sess.Lesson()
	if err := s.filesFor(courseID, lessonID).Save(ctx, tgt.ptc.ID, file, body.Content); err != nil {
		return err
	}

	return s.hub.Emit(ctx, subsRoom(courseID, lessonID, tgt.ptc.ID), EventFileSave, map[string]any{
		"ownerId": body.OwnerID,
		"file":    file,
		"success": true,
	}, req.UUID)
}
