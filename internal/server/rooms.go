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
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Together-Coding/IDE-Server/pkg/filestore"
	"github.com/Together-Coding/IDE-Server/utils"
	"github.com/Together-Coding/IDE-Server/utils/metrics"
)

// Hub owns the room lattice and cross-instance fan-out. Membership is
// local per instance; every emit travels through the redis pub/sub
// channel so members on any instance receive it.
type Hub struct {
	rdb      *redis.Client
	store    *SessionStore
	logger   *slog.Logger
	hostname string

	// monitorStamps enables per-recipient outbound timestamping and
	// inbound-uuid correlation merging.
	monitorStamps bool

	mu    sync.RWMutex
	rooms map[string]map[string]*Session // room name → sid → session
}

// NewHub creates a Hub over the shared KV client.
func NewHub(rdb *redis.Client, store *SessionStore, hostname string, monitorStamps bool, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rdb:           rdb,
		store:         store,
		logger:        logger,
		hostname:      hostname,
		monitorStamps: monitorStamps,
		rooms:         make(map[string]map[string]*Session),
	}
}

// EnterRoom adds the session to a room (idempotent). When limit > 0 and
// the session already holds that many memberships of roomType, the oldest
// memberships are exited first.
func (h *Hub) EnterRoom(sess *Session, roomType, name string, limit int) {
	added, evicted := sess.addRoom(roomType, name, limit)
	for _, old := range evicted {
		h.dropMember(old, sess.SID)
		metrics.RoomMembers.WithLabelValues(roomType).Dec()
	}
	if !added {
		return
	}

	h.mu.Lock()
	members, ok := h.rooms[name]
	if !ok {
		members = make(map[string]*Session)
		h.rooms[name] = members
	}
	members[sess.SID] = sess
	h.mu.Unlock()

	metrics.RoomMembers.WithLabelValues(roomType).Inc()
}

// ExitRoom removes the session from a room (idempotent).
func (h *Hub) ExitRoom(sess *Session, roomType, name string) {
	if !sess.removeRoom(roomType, name) {
		return
	}
	h.dropMember(name, sess.SID)
	metrics.RoomMembers.WithLabelValues(roomType).Dec()
}

// ExitAll removes the session from every room it joined. Called on
// disconnect.
func (h *Hub) ExitAll(sess *Session) {
	for _, pair := range sess.allRooms() {
		h.ExitRoom(sess, pair[0], pair[1])
	}
}

func (h *Hub) dropMember(name, sid string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[name]; ok {
		delete(members, sid)
		if len(members) == 0 {
			delete(h.rooms, name)
		}
	}
}

// members snapshots the local members of one room.
func (h *Hub) members(name string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.rooms[name]))
	for _, s := range h.rooms[name] {
		out = append(out, s)
	}
	return out
}

// PtcSid returns any one sid from the participant's personal room, or ""
// if the participant has no live session on this instance.
func (h *Hub) PtcSid(courseID, lessonID, ptcID int64) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sid := range h.rooms[personalRoom(courseID, lessonID, ptcID)] {
		return sid
	}
	return ""
}

// Emit publishes an event to every member of room on every instance.
func (h *Hub) Emit(ctx context.Context, room, event string, data any, uuid string) error {
	return h.emit(ctx, room, event, data, uuid, "")
}

// EmitSkip is Emit excluding one sid, for broadcasts the originator
// should not receive back.
func (h *Hub) EmitSkip(ctx context.Context, room, event string, data any, uuid, skipSid string) error {
	return h.emit(ctx, room, event, data, uuid, skipSid)
}

// EmitTo publishes an event to a single session, addressed by its sid.
func (h *Hub) EmitTo(ctx context.Context, sid, event string, data any, uuid string) error {
	return h.emit(ctx, sid, event, data, uuid, "")
}

func (h *Hub) emit(ctx context.Context, room, event string, data any, uuid, skipSid string) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s emit: %w", event, err)
	}
	raw, err := json.Marshal(envelope{
		Room:    room,
		Event:   event,
		Data:    payload,
		UUID:    uuid,
		SkipSid: skipSid,
	})
	if err != nil {
		return fmt.Errorf("failed to encode emit envelope: %w", err)
	}

	if err := h.rdb.Publish(ctx, emitChannel, raw).Err(); err != nil {
		return fmt.Errorf("failed to publish %s emit: %w", event, err)
	}
	metrics.EmitsTotal.WithLabelValues(event).Inc()
	return nil
}

// Run keeps the emit subscription alive until ctx is cancelled,
// reconnecting with capped backoff when it drops. Envelopes published
// while disconnected are lost; room state is unaffected.
func (h *Hub) Run(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := h.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := utils.CalculateBackoff(attempt, 30*time.Second)
		h.logger.Warn("emit subscription lost",
			slog.String("channel", emitChannel),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// consume subscribes to the emit channel and delivers envelopes to local
// members until the subscription fails or ctx is cancelled.
func (h *Hub) consume(ctx context.Context) error {
	sub := h.rdb.Subscribe(ctx, emitChannel)
	defer sub.Close()

	// Wait for the subscription before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", emitChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("emit subscription closed")
			}
			h.deliver([]byte(msg.Payload))
		}
	}
}

// deliver routes one envelope to its local recipients.
func (h *Hub) deliver(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.logger.Warn("dropping malformed emit envelope",
			slog.String("error", err.Error()))
		return
	}

	var recipients []*Session
	if sess, ok := h.store.Get(env.Room); ok {
		// Bare sid addressing.
		recipients = []*Session{sess}
	} else {
		recipients = h.members(env.Room)
	}

	data := env.Data
	stamp := h.monitorStamps && !monitorExempt[env.Event]

	var obj map[string]any
	if stamp || env.UUID != "" {
		if err := json.Unmarshal(env.Data, &obj); err != nil {
			// Non-object payloads are delivered unstamped.
			obj = nil
		}
	}
	if obj != nil && env.UUID != "" {
		obj["uuid"] = env.UUID
		h.mergeCorrelation(obj, env.UUID)
	}

	for _, sess := range recipients {
		if env.SkipSid != "" && sess.SID == env.SkipSid {
			continue
		}

		out := data
		if obj != nil {
			if stamp {
				obj["_ts_3"] = nowMillis()
				obj["_ts_3_eid"] = sess.SID
				obj["_s_emit"] = env.Event
			}
			encoded, err := json.Marshal(obj)
			if err != nil {
				continue
			}
			out = encoded
		}

		frame, err := json.Marshal(Frame{Event: env.Event, Data: out, UUID: env.UUID})
		if err != nil {
			continue
		}
		if !sess.Queue(frame) {
			h.logger.Warn("disconnecting slow consumer",
				slog.String("sid", sess.SID),
				slog.String("event", env.Event))
			sess.Close()
		}
	}
}

// mergeCorrelation folds the stored monitor entry for uuid into the
// outbound payload, if one exists.
func (h *Hub) mergeCorrelation(obj map[string]any, uuid string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	val, err := h.rdb.Get(ctx, filestore.MonitorEntry(uuid)).Bytes()
	if err != nil {
		return
	}
	var entry map[string]any
	if err := json.Unmarshal(val, &entry); err != nil {
		return
	}
	for k, v := range entry {
		obj[k] = v
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
