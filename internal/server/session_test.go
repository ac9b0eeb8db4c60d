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
	"testing"

	"github.com/Together-Coding/IDE-Server/internal/auth"
)

func TestSessionRoomLimitEvictsOldest(t *testing.T) {
	t.Parallel()
	sess := newSession("sid1", auth.Principal{UserID: 1}, false)

	added, evicted := sess.addRoom(RoomLesson, "1:1", 1)
	if !added || len(evicted) != 0 {
		t.Fatalf("first join: added=%v evicted=%v", added, evicted)
	}

	added, evicted = sess.addRoom(RoomLesson, "1:2", 1)
	if !added {
		t.Fatal("second join should be added")
	}
	if len(evicted) != 1 || evicted[0] != "1:1" {
		t.Fatalf("expected eviction of 1:1, got %v", evicted)
	}
	if rooms := sess.RoomList(RoomLesson); len(rooms) != 1 || rooms[0] != "1:2" {
		t.Fatalf("expected [1:2], got %v", rooms)
	}
}

func TestSessionRoomJoinIdempotent(t *testing.T) {
	t.Parallel()
	sess := newSession("sid1", auth.Principal{UserID: 1}, false)

	sess.addRoom(RoomSubs, "1:1:5", 0)
	added, evicted := sess.addRoom(RoomSubs, "1:1:5", 0)
	if added || len(evicted) != 0 {
		t.Fatalf("rejoin: added=%v evicted=%v", added, evicted)
	}
	if rooms := sess.RoomList(RoomSubs); len(rooms) != 1 {
		t.Fatalf("expected single membership, got %v", rooms)
	}
}

func TestSessionRemoveRoom(t *testing.T) {
	t.Parallel()
	sess := newSession("sid1", auth.Principal{UserID: 1}, false)

	sess.addRoom(RoomSubs, "1:1:5", 0)
	if !sess.removeRoom(RoomSubs, "1:1:5") {
		t.Fatal("remove of joined room should report true")
	}
	if sess.removeRoom(RoomSubs, "1:1:5") {
		t.Fatal("second remove should report false")
	}
	if rooms := sess.RoomList(RoomSubs); len(rooms) != 0 {
		t.Fatalf("expected no memberships, got %v", rooms)
	}
}

func TestSessionAllRooms(t *testing.T) {
	t.Parallel()
	sess := newSession("sid1", auth.Principal{UserID: 1}, false)

	sess.addRoom(RoomLesson, "1:1", 1)
	sess.addRoom(RoomSubs, "1:1:5", 0)
	sess.addRoom(RoomSubs, "1:1:6", 0)

	if got := len(sess.allRooms()); got != 3 {
		t.Fatalf("expected 3 memberships, got %d", got)
	}
}

func TestSessionQueueBackpressure(t *testing.T) {
	t.Parallel()
	sess := newSession("sid1", auth.Principal{UserID: 1}, false)

	for i := 0; i < sendBufferSize; i++ {
		if !sess.Queue([]byte("x")) {
			t.Fatalf("queue rejected frame %d below capacity", i)
		}
	}
	if sess.Queue([]byte("overflow")) {
		t.Fatal("queue should reject once the buffer is full")
	}
}

func TestSessionQueueAfterClose(t *testing.T) {
	t.Parallel()
	sess := newSession("sid1", auth.Principal{UserID: 1}, false)

	sess.Close()
	if sess.Queue([]byte("x")) {
		t.Fatal("queue should reject after close")
	}
	// Close is idempotent.
	sess.Close()

	select {
	case <-sess.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestSessionLessonBinding(t *testing.T) {
	t.Parallel()
	sess := newSession("sid1", auth.Principal{UserID: 7}, false)

	if _, _, ok := sess.Lesson(); ok {
		t.Fatal("fresh session should not be in a lesson")
	}

	sess.BindLesson(3, 9, 42, "alice")
	courseID, lessonID, ok := sess.Lesson()
	if !ok || courseID != 3 || lessonID != 9 {
		t.Fatalf("lesson binding lost: %d %d %v", courseID, lessonID, ok)
	}
	if sess.ParticipantID() != 42 || sess.Nickname() != "alice" {
		t.Fatalf("participant binding lost: %d %q", sess.ParticipantID(), sess.Nickname())
	}
}

func TestSessionTimeDiff(t *testing.T) {
	t.Parallel()
	sess := newSession("sid1", auth.Principal{UserID: 1}, false)

	if sess.TimeDiff() != 0 {
		t.Fatal("fresh session should have zero offset")
	}
	sess.SetTimeDiff(-125)
	if sess.TimeDiff() != -125 {
		t.Fatalf("expected -125, got %d", sess.TimeDiff())
	}
}

func TestSessionStore(t *testing.T) {
	t.Parallel()
	store := NewSessionStore()

	a := newSession("a", auth.Principal{UserID: 1}, false)
	b := newSession("b", auth.Principal{UserID: 2}, false)
	store.Add(a)
	store.Add(b)

	if store.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", store.Len())
	}
	if got, ok := store.Get("a"); !ok || got != a {
		t.Fatal("lookup of session a failed")
	}

	store.Remove("a")
	if _, ok := store.Get("a"); ok {
		t.Fatal("removed session still resolvable")
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", store.Len())
	}
}
