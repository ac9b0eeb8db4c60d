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
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Together-Coding/IDE-Server/internal/auth"
	"github.com/Together-Coding/IDE-Server/internal/meta"
	"github.com/Together-Coding/IDE-Server/internal/perm"
	"github.com/Together-Coding/IDE-Server/pkg/filestore"
	"github.com/Together-Coding/IDE-Server/utils/cache"
)

// fakeMeta is an in-memory MetaStore for dispatcher tests. It mirrors the
// SQL store's semantics closely enough for handler behavior: conditional
// presence flips, soft deletes, ACL validity.
type fakeMeta struct {
	mu           sync.Mutex
	nextID       int64
	participants map[int64]*meta.Participant
	lessons      map[int64]meta.Lesson
	projects     map[int64]*meta.Project
	projectIdx   map[[2]int64]int64 // (lessonID, ptcID) → project id
	edges        map[[2]int64]int   // (projectID, viewerID) → permission
	refs         map[int64]*meta.CodeReference
	feedbacks    map[int64]*meta.Feedback
	comments     map[int64]*meta.Comment
	fbViewers    map[[2]int64]bool // (feedbackID, ptcID) → valid
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{
		participants: map[int64]*meta.Participant{},
		lessons:      map[int64]meta.Lesson{},
		projects:     map[int64]*meta.Project{},
		projectIdx:   map[[2]int64]int64{},
		edges:        map[[2]int64]int{},
		refs:         map[int64]*meta.CodeReference{},
		feedbacks:    map[int64]*meta.Feedback{},
		comments:     map[int64]*meta.Comment{},
		fbViewers:    map[[2]int64]bool{},
	}
}

func (f *fakeMeta) id() int64 {
	f.nextID++
	return f.nextID
}

// addParticipant seeds a participant and returns its id.
func (f *fakeMeta) addParticipant(courseID, userID int64, role, nickname string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id()
	f.participants[id] = &meta.Participant{
		ID: id, CourseID: courseID, UserID: userID, Role: role, Nickname: nickname,
	}
	return id
}

func (f *fakeMeta) addLesson(courseID, lessonID int64, templateKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lessons[lessonID] = meta.Lesson{ID: lessonID, CourseID: courseID, TemplateArchiveKey: templateKey}
}

func (f *fakeMeta) ParticipantByUser(ctx context.Context, courseID, userID int64) (meta.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants {
		if p.CourseID == courseID && p.UserID == userID {
			return *p, nil
		}
	}
	return meta.Participant{}, meta.ErrNotFound
}

func (f *fakeMeta) ParticipantByID(ctx context.Context, ptcID int64) (meta.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.participants[ptcID]; ok {
		return *p, nil
	}
	return meta.Participant{}, meta.ErrNotFound
}

func (f *fakeMeta) ParticipantsByIDs(ctx context.Context, courseID int64, ids []int64) ([]meta.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []meta.Participant
	for _, id := range ids {
		if p, ok := f.participants[id]; ok && p.CourseID == courseID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeMeta) SetParticipantActive(ctx context.Context, ptcID int64, active bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[ptcID]
	if !ok || p.Active == active {
		return false, nil
	}
	p.Active = active
	return true, nil
}

func (f *fakeMeta) LessonByID(ctx context.Context, lessonID int64) (meta.Lesson, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.lessons[lessonID]; ok {
		return l, nil
	}
	return meta.Lesson{}, meta.ErrNotFound
}

func (f *fakeMeta) ProjectByParticipant(ctx context.Context, lessonID, ptcID int64) (meta.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.projectIdx[[2]int64{lessonID, ptcID}]; ok {
		return *f.projects[id], nil
	}
	return meta.Project{}, meta.ErrNotFound
}

func (f *fakeMeta) EnsureProject(ctx context.Context, lessonID, ptcID int64) (meta.Project, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]int64{lessonID, ptcID}
	if id, ok := f.projectIdx[key]; ok {
		return *f.projects[id], false, nil
	}
	id := f.id()
	p := &meta.Project{ID: id, LessonID: lessonID, ParticipantID: ptcID}
	f.projects[id] = p
	f.projectIdx[key] = id
	return *p, true, nil
}

func (f *fakeMeta) MarkTemplateApplied(ctx context.Context, projectID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[projectID]
	if !ok || p.TemplateApplied {
		return false, nil
	}
	p.TemplateApplied = true
	return true, nil
}

func (f *fakeMeta) TouchProjectActivity(ctx context.Context, projectID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.projects[projectID]; ok {
		p.RecentActivityAt = time.Now()
		p.Active = true
	}
	return nil
}

func (f *fakeMeta) SetProjectActive(ctx context.Context, projectID int64, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.projects[projectID]; ok {
		p.Active = active
	}
	return nil
}

func (f *fakeMeta) UpsertViewerEdge(ctx context.Context, projectID, viewerID int64, permission int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edges[[2]int64{projectID, viewerID}] = permission
	return nil
}

func (f *fakeMeta) ViewerEdge(ctx context.Context, projectID, viewerID int64) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.edges[[2]int64{projectID, viewerID}]
	return p, ok, nil
}

func (f *fakeMeta) AllParticipants(ctx context.Context, courseID, lessonID int64) ([]meta.ParticipantProject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []meta.ParticipantProject
	for _, p := range f.participants {
		if p.CourseID != courseID {
			continue
		}
		row := meta.ParticipantProject{Participant: *p}
		if id, ok := f.projectIdx[[2]int64{lessonID, p.ID}]; ok {
			proj := *f.projects[id]
			row.Project = &proj
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Participant.ID < out[j].Participant.ID })
	return out, nil
}

func (f *fakeMeta) accessEntries(courseID, lessonID int64, viewer meta.Participant, reverse bool, ownerProjectID int64) []meta.AccessEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []meta.AccessEntry
	for _, p := range f.participants {
		if p.CourseID != courseID || p.ID == viewer.ID {
			continue
		}
		projID, ok := f.projectIdx[[2]int64{lessonID, p.ID}]
		if !ok {
			continue
		}
		var permission int
		var hasEdge bool
		if reverse {
			permission, hasEdge = f.edges[[2]int64{ownerProjectID, p.ID}]
		} else {
			permission, hasEdge = f.edges[[2]int64{projID, viewer.ID}]
		}
		if !viewer.IsTeacher() && !hasEdge && !p.IsTeacher() {
			continue
		}
		out = append(out, meta.AccessEntry{
			Participant: *p,
			Project:     *f.projects[projID],
			Permission:  permission,
			HasEdge:     hasEdge,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Participant.ID < out[j].Participant.ID })
	return out
}

func (f *fakeMeta) AccessibleTo(ctx context.Context, courseID, lessonID int64, viewer meta.Participant) ([]meta.AccessEntry, error) {
	return f.accessEntries(courseID, lessonID, viewer, false, 0), nil
}

func (f *fakeMeta) AccessedBy(ctx context.Context, courseID, lessonID int64, owner meta.Participant, ownerProjectID int64) ([]meta.AccessEntry, error) {
	return f.accessEntries(courseID, lessonID, owner, true, ownerProjectID), nil
}

func (f *fakeMeta) RenameCodeRefs(ctx context.Context, projectID int64, oldFile, newFile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ref := range f.refs {
		if ref.ProjectID == projectID && ref.File == oldFile && !ref.Deleted {
			ref.File = newFile
		}
	}
	return nil
}

func (f *fakeMeta) DeleteCodeRefs(ctx context.Context, projectID int64, file string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ref := range f.refs {
		if ref.ProjectID == projectID && ref.File == file {
			ref.Deleted = true
		}
	}
	return nil
}

func (f *fakeMeta) EnsureCodeRef(ctx context.Context, projectID int64, file, line string) (meta.CodeReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ref := range f.refs {
		if ref.ProjectID == projectID && ref.File == file && ref.Line == line {
			ref.Deleted = false
			return *ref, nil
		}
	}
	id := f.id()
	ref := &meta.CodeReference{ID: id, ProjectID: projectID, File: file, Line: line}
	f.refs[id] = ref
	return *ref, nil
}

func (f *fakeMeta) CreateFeedbackThread(ctx context.Context, refID, authorPtcID, ownerPtcID int64, content string, acl []int64) (meta.Feedback, meta.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fbID := f.id()
	fb := &meta.Feedback{ID: fbID, CodeRefID: refID, ParticipantID: authorPtcID, CreatedAt: time.Now()}
	f.feedbacks[fbID] = fb

	cmID := f.id()
	cm := &meta.Comment{ID: cmID, FeedbackID: fbID, ParticipantID: authorPtcID, Content: content, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.comments[cmID] = cm

	f.fbViewers[[2]int64{fbID, authorPtcID}] = true
	f.fbViewers[[2]int64{fbID, ownerPtcID}] = true
	for _, id := range acl {
		f.fbViewers[[2]int64{fbID, id}] = true
	}
	return *fb, *cm, nil
}

func (f *fakeMeta) ownerOfFeedback(fb *meta.Feedback) int64 {
	ref := f.refs[fb.CodeRefID]
	if ref == nil {
		return 0
	}
	if p, ok := f.projects[ref.ProjectID]; ok {
		return p.ParticipantID
	}
	return 0
}

func (f *fakeMeta) ModifyFeedback(ctx context.Context, feedbackID, actorPtcID int64, acl []int64, resolved bool) (granted, revoked []int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fb, ok := f.feedbacks[feedbackID]
	if !ok {
		return nil, nil, meta.ErrNotFound
	}
	if fb.ParticipantID != actorPtcID {
		return nil, nil, meta.ErrNotAuthor
	}

	want := map[int64]bool{fb.ParticipantID: true, f.ownerOfFeedback(fb): true}
	for _, id := range acl {
		want[id] = true
	}
	current := map[int64]bool{}
	for key, valid := range f.fbViewers {
		if key[0] == feedbackID && valid {
			current[key[1]] = true
		}
	}
	for id := range want {
		if !current[id] {
			f.fbViewers[[2]int64{feedbackID, id}] = true
			granted = append(granted, id)
		}
	}
	for id := range current {
		if !want[id] {
			f.fbViewers[[2]int64{feedbackID, id}] = false
			revoked = append(revoked, id)
		}
	}
	fb.Resolved = resolved
	return granted, revoked, nil
}

func (f *fakeMeta) CreateComment(ctx context.Context, feedbackID, actorPtcID int64, content string) (meta.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.feedbacks[feedbackID]; !ok {
		return meta.Comment{}, meta.ErrNotFound
	}
	if !f.fbViewers[[2]int64{feedbackID, actorPtcID}] {
		return meta.Comment{}, meta.ErrNotInACL
	}
	id := f.id()
	cm := &meta.Comment{ID: id, FeedbackID: feedbackID, ParticipantID: actorPtcID, Content: content, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.comments[id] = cm
	return *cm, nil
}

func (f *fakeMeta) ModifyComment(ctx context.Context, commentID, actorPtcID int64, content string, remove bool) (meta.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cm, ok := f.comments[commentID]
	if !ok {
		return meta.Comment{}, meta.ErrNotFound
	}
	if cm.ParticipantID != actorPtcID {
		return meta.Comment{}, meta.ErrNotAuthor
	}
	if remove {
		cm.Deleted = true
	} else {
		cm.Content = content
	}
	cm.UpdatedAt = time.Now()
	return *cm, nil
}

func (f *fakeMeta) FeedbackACL(ctx context.Context, feedbackID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for key, valid := range f.fbViewers {
		if key[0] == feedbackID && valid {
			ids = append(ids, key[1])
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *fakeMeta) FeedbackByID(ctx context.Context, feedbackID int64) (meta.FeedbackDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fb, ok := f.feedbacks[feedbackID]
	if !ok {
		return meta.FeedbackDetail{}, meta.ErrNotFound
	}
	ref := f.refs[fb.CodeRefID]
	d := meta.FeedbackDetail{Feedback: *fb, Ref: *ref, OwnerPtcID: f.ownerOfFeedback(fb)}
	if p, ok := f.projects[ref.ProjectID]; ok {
		d.OwnerProject = p.ID
	}
	return d, nil
}

func (f *fakeMeta) CommentByID(ctx context.Context, commentID int64) (meta.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cm, ok := f.comments[commentID]; ok {
		return *cm, nil
	}
	return meta.Comment{}, meta.ErrNotFound
}

func (f *fakeMeta) FeedbackForLesson(ctx context.Context, lessonID, viewerPtcID int64, ownerFilter int64, fileFilter string) ([]meta.OwnerRollup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var owners []int64
	for key := range f.projectIdx {
		if key[0] == lessonID {
			owners = append(owners, key[1])
		}
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })

	var result []meta.OwnerRollup
	for _, ownerID := range owners {
		if ownerFilter != 0 && ownerID != ownerFilter {
			continue
		}
		projID := f.projectIdx[[2]int64{lessonID, ownerID}]
		roll := meta.OwnerRollup{
			OwnerPtcID:    ownerID,
			OwnerNickname: f.participants[ownerID].Nickname,
			ProjectID:     projID,
		}
		for _, ref := range f.refs {
			if ref.ProjectID != projID || ref.Deleted {
				continue
			}
			if fileFilter != "" && ref.File != fileFilter {
				continue
			}
			refRoll := meta.RefRollup{Ref: *ref}
			for _, fb := range f.feedbacks {
				if fb.CodeRefID != ref.ID || !f.fbViewers[[2]int64{fb.ID, viewerPtcID}] {
					continue
				}
				fbRoll := meta.FeedbackRollup{Feedback: *fb}
				for key, valid := range f.fbViewers {
					if key[0] == fb.ID && valid {
						fbRoll.ACL = append(fbRoll.ACL, key[1])
					}
				}
				sort.Slice(fbRoll.ACL, func(i, j int) bool { return fbRoll.ACL[i] < fbRoll.ACL[j] })
				for _, cm := range f.comments {
					if cm.FeedbackID == fb.ID {
						c := *cm
						if c.Deleted {
							c.Content = ""
						}
						fbRoll.Comments = append(fbRoll.Comments, c)
					}
				}
				sort.Slice(fbRoll.Comments, func(i, j int) bool { return fbRoll.Comments[i].ID < fbRoll.Comments[j].ID })
				refRoll.Feedbacks = append(refRoll.Feedbacks, fbRoll)
			}
			if len(refRoll.Feedbacks) > 0 {
				roll.Refs = append(roll.Refs, refRoll)
			}
		}
		if len(roll.Refs) > 0 {
			result = append(result, roll)
		}
	}
	return result, nil
}

// fakeVerifier maps static tokens to principals.
type fakeVerifier struct {
	tokens     map[string]int64
	monitorKey string
}

func (v *fakeVerifier) VerifyToken(ctx context.Context, token string) (auth.Principal, error) {
	if userID, ok := v.tokens[token]; ok {
		return auth.Principal{UserID: userID}, nil
	}
	return auth.Principal{}, auth.ErrAuthFailed
}

func (v *fakeVerifier) VerifyMonitorKey(key string) bool {
	return v.monitorKey != "" && key == v.monitorKey
}

// fakeObjects is an in-memory cold tier.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}}
}

func (f *fakeObjects) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if body, ok := f.objects[key]; ok {
		return body, nil
	}
	return nil, errors.New("object not found: " + key)
}

func (f *fakeObjects) Put(ctx context.Context, key string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = body
	return nil
}

func (f *fakeObjects) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeObjects) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

// testEnv bundles a dispatcher over miniredis with its fakes and a running
// fan-out loop.
type testEnv struct {
	srv     *Server
	meta    *fakeMeta
	objects *fakeObjects
	mr      *miniredis.Miniredis
	rdb     *redis.Client
}

func newTestEnv(t *testing.T, monitorEnabled bool) *testEnv {
	t.Helper()
	return newTestEnvLimits(t, monitorEnabled, filestore.Limits{})
}

func newTestEnvLimits(t *testing.T, monitorEnabled bool, limits filestore.Limits) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cacheRdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), DB: 1})
	t.Cleanup(func() {
		rdb.Close()
		cacheRdb.Close()
	})

	fm := newFakeMeta()
	objects := newFakeObjects()
	srv := NewServer(Deps{
		Meta:           fm,
		Perm:           perm.NewEngine(fm),
		RDB:            rdb,
		Objects:        objects,
		Limits:         limits,
		Cache:          cache.New(cacheRdb, time.Second, nil),
		Verifier:       &fakeVerifier{tokens: map[string]int64{}},
		Hostname:       "test-host",
		MonitorEnabled: monitorEnabled,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Hub().Run(ctx)
	waitSubscribed(t, rdb)

	return &testEnv{srv: srv, meta: fm, objects: objects, mr: mr, rdb: rdb}
}

// waitSubscribed blocks until the hub's pub/sub subscription is live so
// emits published by the test are not lost.
func waitSubscribed(t *testing.T, rdb *redis.Client) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		channels, err := rdb.PubSubChannels(context.Background(), emitChannel).Result()
		if err == nil && len(channels) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("fan-out subscription did not come up")
}

// connect registers a live session the way ServeWS would, without the
// socket.
func (env *testEnv) connect(t *testing.T, userID int64) *Session {
	t.Helper()
	sess := newSession(fmt.Sprintf("sid-%d-%d", userID, time.Now().UnixNano()), auth.Principal{UserID: userID}, false)
	env.srv.sessions.Add(sess)
	t.Cleanup(func() { env.srv.sessions.Remove(sess.SID) })
	return sess
}

func (env *testEnv) connectAdmin(t *testing.T) *Session {
	t.Helper()
	sess := newSession(fmt.Sprintf("admin-%d", time.Now().UnixNano()), auth.Principal{}, true)
	env.srv.sessions.Add(sess)
	t.Cleanup(func() { env.srv.sessions.Remove(sess.SID) })
	return sess
}

// dispatch runs one inbound frame through the demux table.
func (env *testEnv) dispatch(t *testing.T, sess *Session, event string, data any, uuid string) {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("failed to encode %s data: %v", event, err)
		}
		raw = encoded
	}
	env.srv.dispatch(context.Background(), sess, &Frame{Event: event, Data: raw, UUID: uuid})
}

// initLesson seeds lesson membership and runs INIT_LESSON to completion.
func (env *testEnv) initLesson(t *testing.T, sess *Session, courseID, lessonID int64) {
	t.Helper()
	env.dispatch(t, sess, EventInitLesson, map[string]any{"courseId": courseID, "lessonId": lessonID}, "")
	reply := recvFrame(t, sess, EventInitLesson)
	var body map[string]any
	if err := json.Unmarshal(reply.Data, &body); err != nil {
		t.Fatalf("failed to decode INIT_LESSON reply: %v", err)
	}
	if body["success"] != true {
		t.Fatalf("INIT_LESSON failed: %s", reply.Data)
	}
}

// recvFrame waits for the next frame with the given event, skipping
// unrelated broadcasts.
func recvFrame(t *testing.T, sess *Session, event string) *Frame {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case raw := <-sess.send:
			var f Frame
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Fatalf("malformed outbound frame: %v", err)
			}
			if f.Event == event {
				return &f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", event)
		}
	}
}

// expectNoFrame asserts no frame with the given event arrives within the
// window.
func expectNoFrame(t *testing.T, sess *Session, event string) {
	t.Helper()
	deadline := time.After(300 * time.Millisecond)
	for {
		select {
		case raw := <-sess.send:
			var f Frame
			if err := json.Unmarshal(raw, &f); err != nil {
				continue
			}
			if f.Event == event {
				t.Fatalf("unexpected %s frame: %s", event, f.Data)
			}
		case <-deadline:
			return
		}
	}
}

// decodeData unmarshals a frame's data into a generic map.
func decodeData(t *testing.T, f *Frame) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(f.Data, &body); err != nil {
		t.Fatalf("failed to decode %s data: %v", f.Event, err)
	}
	return body
}
