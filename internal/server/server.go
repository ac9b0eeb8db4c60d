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

// Package server implements the realtime event dispatcher: WebSocket
// connection handling, session and room state, the per-event demux table,
// all protocol handlers, and the cross-instance fan-out bridge.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/Together-Coding/IDE-Server/internal/auth"
	"github.com/Together-Coding/IDE-Server/internal/meta"
	"github.com/Together-Coding/IDE-Server/internal/perm"
	"github.com/Together-Coding/IDE-Server/pkg/filestore"
	"github.com/Together-Coding/IDE-Server/utils/cache"
	"github.com/Together-Coding/IDE-Server/utils/metrics"
)

// Connection timing. The read deadline is refreshed by pongs; a peer that
// misses two ping intervals is dropped.
const (
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	writeWait    = 10 * time.Second
	readLimitPad = 1 << 20
	monitorTTL   = 60 * time.Second
)

// MetaStore is the metadata surface the dispatcher consumes. *meta.Store
// satisfies it; tests substitute an in-memory fake.
type MetaStore interface {
	ParticipantByUser(ctx context.Context, courseID, userID int64) (meta.Participant, error)
	ParticipantByID(ctx context.Context, ptcID int64) (meta.Participant, error)
	ParticipantsByIDs(ctx context.Context, courseID int64, ids []int64) ([]meta.Participant, error)
	SetParticipantActive(ctx context.Context, ptcID int64, active bool) (bool, error)
	LessonByID(ctx context.Context, lessonID int64) (meta.Lesson, error)
	ProjectByParticipant(ctx context.Context, lessonID, ptcID int64) (meta.Project, error)
	EnsureProject(ctx context.Context, lessonID, ptcID int64) (meta.Project, bool, error)
	MarkTemplateApplied(ctx context.Context, projectID int64) (bool, error)
	TouchProjectActivity(ctx context.Context, projectID int64) error
	SetProjectActive(ctx context.Context, projectID int64, active bool) error
	UpsertViewerEdge(ctx context.Context, projectID, viewerID int64, permission int) error
	ViewerEdge(ctx context.Context, projectID, viewerID int64) (int, bool, error)
	AllParticipants(ctx context.Context, courseID, lessonID int64) ([]meta.ParticipantProject, error)
	AccessibleTo(ctx context.Context, courseID, lessonID int64, viewer meta.Participant) ([]meta.AccessEntry, error)
	AccessedBy(ctx context.Context, courseID, lessonID int64, owner meta.Participant, ownerProjectID int64) ([]meta.AccessEntry, error)
	RenameCodeRefs(ctx context.Context, projectID int64, oldFile, newFile string) error
	DeleteCodeRefs(ctx context.Context, projectID int64, file string) error
	EnsureCodeRef(ctx context.Context, projectID int64, file, line string) (meta.CodeReference, error)
	CreateFeedbackThread(ctx context.Context, refID, authorPtcID, ownerPtcID int64, content string, acl []int64) (meta.Feedback, meta.Comment, error)
	ModifyFeedback(ctx context.Context, feedbackID, actorPtcID int64, acl []int64, resolved bool) (granted, revoked []int64, err error)
	CreateComment(ctx context.Context, feedbackID, actorPtcID int64, content string) (meta.Comment, error)
	ModifyComment(ctx context.Context, commentID, actorPtcID int64, content string, remove bool) (meta.Comment, error)
	FeedbackACL(ctx context.Context, feedbackID int64) ([]int64, error)
	FeedbackByID(ctx context.Context, feedbackID int64) (meta.FeedbackDetail, error)
	CommentByID(ctx context.Context, commentID int64) (meta.Comment, error)
	FeedbackForLesson(ctx context.Context, lessonID, viewerPtcID int64, ownerFilter int64, fileFilter string) ([]meta.OwnerRollup, error)
}

// TokenVerifier is the connect-time credential check surface.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (auth.Principal, error)
	VerifyMonitorKey(key string) bool
}

// Request is one validated inbound event handed to a handler.
type Request struct {
	Event string
	UUID  string
	Data  json.RawMessage
}

// Bind decodes the request data into v.
func (r *Request) Bind(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", r.Event, err)
	}
	return nil
}

type handlerFunc func(ctx context.Context, sess *Session, req *Request) error

// eventSpec is one row of the static demux table.
type eventSpec struct {
	handler     handlerFunc
	required    []string
	needsLesson bool
	needsAdmin  bool
}

// Deps bundles the process-wide collaborators the dispatcher needs.
type Deps struct {
	Meta     MetaStore
	Perm     *perm.Engine
	RDB      *redis.Client
	Objects  filestore.ObjectStore
	Limits   filestore.Limits
	Cache    *cache.Cache
	Verifier TokenVerifier
	Hostname string
	// MonitorEnabled turns on outbound stamping, correlation entries and
	// monitor-room mirroring.
	MonitorEnabled bool
	Logger         *slog.Logger
}

// Server is the realtime dispatcher.
type Server struct {
	meta           MetaStore
	perm           *perm.Engine
	rdb            *redis.Client
	objects        filestore.ObjectStore
	limits         filestore.Limits
	cache          *cache.Cache
	verifier       TokenVerifier
	sessions       *SessionStore
	hub            *Hub
	logger         *slog.Logger
	hostname       string
	monitorEnabled bool
	upgrader       websocket.Upgrader
	events         map[string]eventSpec
}

// NewServer wires a dispatcher from its dependencies.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Limits.HotLimit <= 0 {
		deps.Limits.HotLimit = filestore.DefaultHotLimit
	}
	if deps.Limits.SizeLimit <= 0 {
		deps.Limits.SizeLimit = filestore.DefaultSizeLimit
	}
	sessions := NewSessionStore()

	s := &Server{
		meta:           deps.Meta,
		perm:           deps.Perm,
		rdb:            deps.RDB,
		objects:        deps.Objects,
		limits:         deps.Limits,
		cache:          deps.Cache,
		verifier:       deps.Verifier,
		sessions:       sessions,
		hub:            NewHub(deps.RDB, sessions, deps.Hostname, deps.MonitorEnabled, logger),
		logger:         logger,
		hostname:       deps.Hostname,
		monitorEnabled: deps.MonitorEnabled,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from the IDE frontend origin; origin
			// policy is enforced upstream.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.events = s.buildDemuxTable()
	return s
}

// buildDemuxTable enumerates every protocol event with its validation
// descriptor. Validation runs before the handler.
func (s *Server) buildDemuxTable() map[string]eventSpec {
	return map[string]eventSpec{
		EventEcho:        {handler: s.handleEcho},
		EventTimeSync:    {handler: s.handleTimeSync, required: []string{"ts1"}},
		EventTimeSyncAck: {handler: s.handleTimeSyncAck, required: []string{"ts1", "ts2", "ts3"}},
		EventWSMonitor: {
			handler:    s.handleWSMonitor,
			required:   []string{"courseId", "lessonId"},
			needsAdmin: true,
		},
		EventTimestampAck: {handler: s.handleTimestampAck},

		EventInitLesson: {handler: s.handleInitLesson, required: []string{"courseId", "lessonId"}},

		EventAllParticipant:  {handler: s.handleAllParticipant, needsLesson: true},
		EventActivityPing:    {handler: s.handleActivityPing, needsLesson: true},
		EventProjectAccess:   {handler: s.handleProjectAccessible, needsLesson: true},
		EventProjectPerm:     {handler: s.handleProjectPerm, needsLesson: true},
		EventSubsList:        {handler: s.handleSubsList, needsLesson: true},
		EventSubsParticipant: {handler: s.handleSubsParticipant, required: []string{"target"}, needsLesson: true},
		EventUnsubsPtc:       {handler: s.handleUnsubsParticipant, required: []string{"target"}, needsLesson: true},

		EventDirInfo:    {handler: s.handleDirInfo, required: []string{"targetId"}, needsLesson: true},
		EventFileRead:   {handler: s.handleFileRead, required: []string{"ownerId", "file"}, needsLesson: true},
		EventFileCreate: {handler: s.handleFileCreate, required: []string{"ownerId", "type", "name"}, needsLesson: true},
		EventFileUpdate: {handler: s.handleFileUpdate, required: []string{"ownerId", "type", "name", "rename"}, needsLesson: true},
		EventFileDelete: {handler: s.handleFileDelete, required: []string{"ownerId", "type", "name"}, needsLesson: true},
		EventFileMod:    {handler: s.handleFileMod, required: []string{"ownerId", "file", "cursor", "change", "timestamp"}, needsLesson: true},
		EventFileSave:   {handler: s.handleFileSave, required: []string{"ownerId", "file", "content"}, needsLesson: true},

		EventCursorLast: {handler: s.handleCursorLast, required: []string{"ownerId", "file"}, needsLesson: true},
		EventCursorMove: {handler: s.handleCursorMove, required: []string{"fileInfo", "timestamp"}, needsLesson: true},

		EventFeedbackList:    {handler: s.handleFeedbackList, needsLesson: true},
		EventFeedbackAdd:     {handler: s.handleFeedbackAdd, required: []string{"ref", "acl", "comment"}, needsLesson: true},
		EventFeedbackMod:     {handler: s.handleFeedbackMod, required: []string{"feedbackId", "acl", "resolved"}, needsLesson: true},
		EventFeedbackComment: {handler: s.handleFeedbackComment, required: []string{"feedbackId", "content"}, needsLesson: true},
		EventFeedbackCmtMod:  {handler: s.handleFeedbackCommentMod, required: []string{"commentId"}, needsLesson: true},
	}
}

// Hub exposes the fan-out hub, mainly so main can run its pub/sub loop.
func (s *Server) Hub() *Hub { return s.hub }

// Sessions exposes the session store.
func (s *Server) Sessions() *SessionStore { return s.sessions }

// ServeWS authenticates and upgrades one WebSocket connection.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	principal, isAdmin, err := s.authenticate(r)
	if err != nil {
		s.logger.Info("connection refused",
			slog.String("module", "server"),
			slog.String("error", err.Error()))
		http.Error(w, "authorization failed", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	sess := newSession(uuid.NewString(), principal, isAdmin)
	s.sessions.Add(sess)
	metrics.Connections.Inc()

	s.logger.Info("session connected",
		slog.String("module", "server"),
		slog.String("sid", sess.SID),
		slog.Int64("user", principal.UserID),
		slog.Bool("admin", isAdmin))

	go s.writePump(conn, sess)
	go s.readPump(conn, sess)
}

// authenticate resolves the connect-time credential: a bearer token for
// participants, or the monitor API key for admin observability sessions.
func (s *Server) authenticate(r *http.Request) (auth.Principal, bool, error) {
	if key := r.Header.Get("X-API-KEY"); key != "" {
		if s.verifier.VerifyMonitorKey(key) {
			return auth.Principal{}, true, nil
		}
		return auth.Principal{}, false, fmt.Errorf("%w: invalid monitor key", auth.ErrAuthFailed)
	}

	header := r.Header.Get("Authorization")
	token := ""
	if idx := strings.Index(strings.ToLower(header), "bearer"); idx != -1 {
		token = strings.TrimSpace(header[idx+len("bearer"):])
	}
	if token == "" {
		return auth.Principal{}, false, fmt.Errorf("%w: authorization token is required", auth.ErrAuthFailed)
	}

	principal, err := s.verifier.VerifyToken(r.Context(), token)
	if err != nil {
		return auth.Principal{}, false, err
	}
	return principal, false, nil
}

// readPump consumes inbound frames in order until the connection dies.
func (s *Server) readPump(conn *websocket.Conn, sess *Session) {
	defer func() {
		sess.Close()
		s.disconnect(sess)
		conn.Close()
	}()

	// The largest legal inbound frame is a save of a full-size project
	// file; its JSON string encoding can double the content length, so the
	// limit tracks the project cap rather than the hot-tier cap.
	conn.SetReadLimit(2*s.limits.SizeLimit + readLimitPad)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("read failed",
					slog.String("module", "server"),
					slog.String("sid", sess.SID),
					slog.String("error", err.Error()))
			}
			return
		}

		frame, err := decodeFrame(raw)
		if err != nil {
			s.logger.Debug("dropping malformed frame",
				slog.String("module", "server"),
				slog.String("sid", sess.SID),
				slog.String("error", err.Error()))
			continue
		}

		s.dispatch(context.Background(), sess, frame)
	}
}

// writePump drains the session's send queue and keeps the connection
// alive with pings.
func (s *Server) writePump(conn *websocket.Conn, sess *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case raw := <-sess.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				sess.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.Close()
				return
			}
		case <-sess.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// dispatch validates and routes one inbound frame.
func (s *Server) dispatch(ctx context.Context, sess *Session, frame *Frame) {
	metrics.EventsTotal.WithLabelValues(frame.Event).Inc()
	s.recordMonitor(ctx, sess, frame)

	spec, ok := s.events[frame.Event]
	if !ok {
		s.logger.Debug("ignoring unknown event",
			slog.String("module", "server"),
			slog.String("event", frame.Event))
		return
	}

	if spec.needsAdmin && !sess.IsAdmin {
		return
	}
	if spec.needsLesson {
		if _, _, bound := sess.Lesson(); !bound {
			s.emitEventError(ctx, sess, EventErr, errNotInLesson)
			return
		}
	}

	req := &Request{Event: frame.Event, UUID: frame.UUID, Data: frame.Data}
	if len(spec.required) > 0 {
		if ee := validateRequired(req, spec.required); ee != nil {
			metrics.EventErrorsTotal.WithLabelValues(frame.Event, ee.Kind).Inc()
			s.emitEventError(ctx, sess, frame.Event, ee)
			return
		}
	}

	start := time.Now()
	err := spec.handler(ctx, sess, req)
	metrics.EventDuration.WithLabelValues(frame.Event).Observe(time.Since(start).Seconds())

	if err != nil {
		ee := asEventError(err)
		if ee == nil {
			sentry.CaptureException(err)
			s.logger.ErrorContext(ctx, "handler failed",
				slog.String("module", "server"),
				slog.String("event", frame.Event),
				slog.String("sid", sess.SID),
				slog.String("error", err.Error()))
			ee = NewEventError(KindUnknown, "Unknown error occurred.")
		}
		metrics.EventErrorsTotal.WithLabelValues(frame.Event, ee.Kind).Inc()
		s.emitEventError(ctx, sess, frame.Event, ee)
	}
}

// validateRequired checks field presence against the demux descriptor and
// collects every absent field into one error.
func validateRequired(req *Request, required []string) *EventError {
	fields := map[string]any{}
	if len(req.Data) > 0 {
		// Non-object data (e.g. arrays) fails every required field, same
		// as an empty object.
		json.Unmarshal(req.Data, &fields)
	}

	var msgs []string
	for _, name := range required {
		if _, ok := fields[name]; !ok {
			msgs = append(msgs, fmt.Sprintf("`%s` is required.", name))
		}
	}
	if len(msgs) > 0 {
		return NewEventError(KindMissingField, msgs...)
	}
	return nil
}

// emitEventError sends one error frame on the given event to the caller.
func (s *Server) emitEventError(ctx context.Context, sess *Session, event string, ee *EventError) {
	if err := s.hub.EmitTo(ctx, sess.SID, event, errorPayload(ee.Messages...), ""); err != nil {
		s.logger.Warn("failed to emit error frame",
			slog.String("module", "server"),
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}

// recordMonitor stores the correlation entry for an inbound frame and
// mirrors it to the monitor room.
func (s *Server) recordMonitor(ctx context.Context, sess *Session, frame *Frame) {
	if !s.monitorEnabled || monitorExempt[frame.Event] || frame.UUID == "" {
		return
	}

	var fields map[string]any
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &fields); err != nil {
			return
		}
	}
	if fields == nil {
		fields = map[string]any{}
	}

	entry := map[string]any{
		"_ts_1":     fields["_ts_1"],
		"_ts_1_eid": sess.SID,
		"_ts_2":     nowMillis(),
		"_c_emit":   frame.Event,
	}
	raw, err := json.Marshal(entry)
	if err == nil {
		if err := s.rdb.Set(ctx, filestore.MonitorEntry(frame.UUID), raw, monitorTTL).Err(); err != nil {
			s.logger.Debug("failed to store monitor entry",
				slog.String("module", "monitor"),
				slog.String("error", err.Error()))
		}
	}

	courseID, lessonID, bound := sess.Lesson()
	if !bound {
		return
	}
	mirror := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		mirror[k] = v
	}
	mirror["server"] = "Server-" + s.hostname
	if err := s.hub.Emit(ctx, monitorRoom(courseID, lessonID), EventWSMonitorEvent, mirror, frame.UUID); err != nil {
		s.logger.Debug("failed to mirror event",
			slog.String("module", "monitor"),
			slog.String("error", err.Error()))
	}
}

// disconnect tears down a session: leaves every room, flips presence off
// and notifies the lesson.
func (s *Server) disconnect(sess *Session) {
	if _, loaded := s.sessions.Get(sess.SID); !loaded {
		return
	}
	s.sessions.Remove(sess.SID)
	metrics.Connections.Dec()

	ctx := context.Background()
	courseID, lessonID, bound := sess.Lesson()
	ptcID := sess.ParticipantID()

	s.hub.ExitAll(sess)

	if bound && ptcID != 0 {
		s.setPresence(ctx, courseID, lessonID, ptcID, false)
	}

	s.logger.Info("session disconnected",
		slog.String("module", "server"),
		slog.String("sid", sess.SID),
		slog.Duration("duration", time.Since(sess.CreatedAt)))
}

// setPresence flips the participant's active flag and, when the value
// actually changed, broadcasts PARTICIPANT_STATUS to the lesson and
// invalidates the cached participant listing.
func (s *Server) setPresence(ctx context.Context, courseID, lessonID, ptcID int64, active bool) {
	flipped, err := s.meta.SetParticipantActive(ctx, ptcID, active)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to update presence",
			slog.String("module", "server"),
			slog.Int64("participant", ptcID),
			slog.String("error", err.Error()))
		return
	}
	if !flipped {
		return
	}

	if project, err := s.meta.ProjectByParticipant(ctx, lessonID, ptcID); err == nil {
		if err := s.meta.SetProjectActive(ctx, project.ID, active); err != nil {
			s.logger.Warn("failed to mirror presence on project",
				slog.String("module", "server"),
				slog.String("error", err.Error()))
		}
	}

	s.invalidateLessonCache(ctx, courseID, lessonID)

	if err := s.hub.Emit(ctx, lessonRoom(courseID, lessonID), EventParticipantStat,
		map[string]any{"id": ptcID, "active": active}, ""); err != nil {
		s.logger.Warn("failed to broadcast participant status",
			slog.String("module", "server"),
			slog.String("error", err.Error()))
	}
}

// invalidateLessonCache drops the lesson-wide participant listing memo.
func (s *Server) invalidateLessonCache(ctx context.Context, courseID, lessonID int64) {
	key := cache.Key(cache.LessonScope(courseID, lessonID), "allParticipant")
	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Warn("cache invalidation failed",
			slog.String("module", "server"),
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}

// invalidateAccessCache drops both access listings of one participant.
func (s *Server) invalidateAccessCache(ctx context.Context, ptcID int64) {
	keys := []string{
		cache.Key(cache.PtcScope(ptcID), "accessibleTo"),
		cache.Key(cache.PtcScope(ptcID), "accessedBy"),
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidation failed",
			slog.String("module", "server"),
			slog.String("error", err.Error()))
	}
}

// filesFor builds the file store bound to one lesson's key space.
func (s *Server) filesFor(courseID, lessonID int64) *filestore.Store {
	return filestore.NewStore(s.rdb, s.objects, filestore.NewKeys(courseID, lessonID), s.limits, s.logger)
}

// handleEcho responds on the `message` event with the request data.
func (s *Server) handleEcho(ctx context.Context, sess *Session, req *Request) error {
	var data any
	if err := req.Bind(&data); err != nil {
		data = nil
	}
	return s.hub.EmitTo(ctx, sess.SID, EventMessage, fmt.Sprintf("%v", data), req.UUID)
}
