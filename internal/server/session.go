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
	"fmt"
	"sync"
	"time"

	"github.com/Together-Coding/IDE-Server/internal/auth"
)

// Room types. A session tracks its memberships per type so that bounded
// types can evict their oldest membership.
const (
	RoomLesson   = "lesson"
	RoomPersonal = "personal"
	RoomSubs     = "subs"
	RoomMonitor  = "monitor"
)

// Room name derivations.
func lessonRoom(courseID, lessonID int64) string {
	return fmt.Sprintf("%d:%d", courseID, lessonID)
}

func personalRoom(courseID, lessonID, ptcID int64) string {
	return fmt.Sprintf("%d:%d:%d:self", courseID, lessonID, ptcID)
}

func subsRoom(courseID, lessonID, ptcID int64) string {
	return fmt.Sprintf("%d:%d:%d", courseID, lessonID, ptcID)
}

func monitorRoom(courseID, lessonID int64) string {
	return fmt.Sprintf("admin:monitor:%d:%d", courseID, lessonID)
}

// sendBufferSize bounds the per-session outbound queue. A consumer that
// falls this far behind is disconnected.
const sendBufferSize = 256

// Session is one live WebSocket connection's state.
type Session struct {
	SID       string
	Principal auth.Principal
	IsAdmin   bool
	CreatedAt time.Time

	mu            sync.Mutex
	courseID      int64
	lessonID      int64
	participantID int64
	nickname      string
	timeDiffMs    int64
	rooms         map[string][]string // room type → names, oldest first

	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(sid string, principal auth.Principal, isAdmin bool) *Session {
	return &Session{
		SID:       sid,
		Principal: principal,
		IsAdmin:   isAdmin,
		CreatedAt: time.Now(),
		rooms:     make(map[string][]string),
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
	}
}

// BindLesson stores the lesson coordinates and participant identity
// resolved by INIT_LESSON.
func (s *Session) BindLesson(courseID, lessonID, participantID int64, nickname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courseID = courseID
	s.lessonID = lessonID
	s.participantID = participantID
	s.nickname = nickname
}

// Lesson returns the bound lesson coordinates. ok is false before
// INIT_LESSON succeeds.
func (s *Session) Lesson() (courseID, lessonID int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.courseID, s.lessonID, s.courseID != 0 && s.lessonID != 0
}

// ParticipantID returns the bound participant id, zero before INIT_LESSON.
func (s *Session) ParticipantID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantID
}

// Nickname returns the bound participant nickname.
func (s *Session) Nickname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nickname
}

// SetTimeDiff stores the estimated client clock offset in milliseconds.
func (s *Session) SetTimeDiff(ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeDiffMs = ms
}

// TimeDiff returns the estimated client clock offset in milliseconds.
func (s *Session) TimeDiff() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeDiffMs
}

// addRoom appends a membership, reporting whether it was new and which
// memberships of the same type must be evicted to respect limit.
func (s *Session) addRoom(roomType, name string, limit int) (added bool, evicted []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := s.rooms[roomType]
	for _, n := range names {
		if n == name {
			return false, nil
		}
	}
	if limit > 0 {
		for len(names) >= limit {
			evicted = append(evicted, names[0])
			names = names[1:]
		}
	}
	s.rooms[roomType] = append(names, name)
	return true, evicted
}

// removeRoom drops a membership, reporting whether it was present.
func (s *Session) removeRoom(roomType, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := s.rooms[roomType]
	for i, n := range names {
		if n == name {
			s.rooms[roomType] = append(names[:i], names[i+1:]...)
			return true
		}
	}
	return false
}

// RoomList returns a copy of the membership list for one room type.
func (s *Session) RoomList(roomType string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := s.rooms[roomType]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// allRooms snapshots every membership as (type, name) pairs.
func (s *Session) allRooms() [][2]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][2]string
	for roomType, names := range s.rooms {
		for _, n := range names {
			out = append(out, [2]string{roomType, n})
		}
	}
	return out
}

// Queue enqueues an outbound message. Reports false when the session is
// closed or its buffer is full.
func (s *Session) Queue(raw []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- raw:
		return true
	default:
		return false
	}
}

// Close marks the session dead (idempotent). The write pump drains and
// closes the connection.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Done reports session termination.
func (s *Session) Done() <-chan struct{} { return s.done }

// SessionStore tracks live sessions by sid.
type SessionStore struct {
	sessions sync.Map // sid → *Session
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

// Add registers a session.
func (st *SessionStore) Add(s *Session) {
	st.sessions.Store(s.SID, s)
}

// Remove unregisters a session by sid.
func (st *SessionStore) Remove(sid string) {
	st.sessions.Delete(sid)
}

// Get returns the session with the given sid, if live.
func (st *SessionStore) Get(sid string) (*Session, bool) {
	v, ok := st.sessions.Load(sid)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Len returns the number of live sessions.
func (st *SessionStore) Len() int {
	n := 0
	st.sessions.Range(func(_, _ any) bool { n++; return true })
	return n
}
