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
)

// handleWSMonitor enters the admin session into one lesson's monitor room.
// A monitor session watches a single lesson at a time; entering another
// lesson's room replaces the previous one.
func (s *Server) handleWSMonitor(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		CourseID int64 `json:"courseId"`
		LessonID int64 `json:"lessonId"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`courseId` and `lessonId` must be numbers.")
	}

	room := monitorRoom(body.CourseID, body.LessonID)
	s.hub.EnterRoom(sess, RoomMonitor, room, 1)

	return s.hub.Emit(ctx, room, EventWSMonitor, map[string]any{"message": "hello"}, req.UUID)
}

// handleTimestampAck relays a client-side delivery receipt to the monitor
// room, stamped with the handling server's hostname.
func (s *Server) handleTimestampAck(ctx context.Context, sess *Session, req *Request) error {
	var fields map[string]any
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &fields); err != nil {
			return nil
		}
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["server"] = s.hostname

	rooms := sess.RoomList(RoomMonitor)
	if len(rooms) == 0 {
		courseID, lessonID, bound := sess.Lesson()
		if !bound {
			return nil
		}
		rooms = []string{monitorRoom(courseID, lessonID)}
	}
	for _, room := range rooms {
		if err := s.hub.Emit(ctx, room, EventWSMonitorEvent, fields, req.UUID); err != nil {
			return err
		}
	}
	return nil
}

// handleTimeSync answers the first leg of the clock-offset exchange with
// the server receive time.
func (s *Server) handleTimeSync(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		TS1 int64 `json:"ts1"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`ts1` must be a number.")
	}

	return s.hub.EmitTo(ctx, sess.SID, EventTimeSyncAck, map[string]any{
		"ts1": body.TS1,
		"ts2": nowMillis(),
	}, req.UUID)
}

// handleTimeSyncAck closes the exchange: the client echoes the server
// timestamp together with its own send and receive times, and the
// session keeps the estimated clock offset.
func (s *Server) handleTimeSyncAck(ctx context.Context, sess *Session, req *Request) error {
	var body struct {
		TS1 int64 `json:"ts1"`
		TS2 int64 `json:"ts2"`
		TS3 int64 `json:"ts3"`
	}
	if err := req.Bind(&body); err != nil {
		return NewEventError(KindMissingField, "`ts1`, `ts2` and `ts3` must be numbers.")
	}

	// NTP-style estimate assuming symmetric latency.
	offset := body.TS2 - (body.TS1+body.TS3)/2
	sess.SetTimeDiff(offset)
	return nil
}
