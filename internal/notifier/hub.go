/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package notifier is the outcome-event fan-out service: a per-instance
// session/room registry, filter-matched delivery, load-shed
// backpressure, and a pluggable adapter for cross-instance visibility.
package notifier

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jordigilh/auditlog/pkg/shared/logging"
)

// DefaultRoomMemberCap is the load-shed threshold: a room with more
// members than this is skipped for a given event rather than queued.
const DefaultRoomMemberCap = 1000

// Hub is the Notifier's per-instance session/room registry. All state
// is local to one process; cross-instance delivery is the Adapter's
// job, not the Hub's.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*Session
	rooms    map[string]*room

	memberCap int
	clock     func() time.Time
	logger    *zap.Logger
}

// NewHub constructs an empty Hub. A non-positive memberCap falls back
// to DefaultRoomMemberCap.
func NewHub(memberCap int, logger *zap.Logger) *Hub {
	if memberCap <= 0 {
		memberCap = DefaultRoomMemberCap
	}
	return &Hub{
		sessions:  make(map[string]*Session),
		rooms:     make(map[string]*room),
		memberCap: memberCap,
		clock:     time.Now,
		logger:    logger,
	}
}

// Register adds a newly connected session to the Hub.
func (h *Hub) Register(id, remoteAddr, userAgent string, sender Sender) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := newSession(id, remoteAddr, userAgent, sender, h.clock())
	h.sessions[id] = s
	return s
}

// Join adds sessionID to room, creating the room on first join, and
// returns the room's current member count and effective filters.
func (h *Hub) Join(sessionID, roomName string, filters map[string]interface{}) (int, map[string]interface{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.sessions[sessionID]
	if !ok {
		return 0, nil, false
	}

	r, ok := h.rooms[roomName]
	if !ok {
		r = newRoom(roomName, filters, h.clock())
		h.rooms[roomName] = r
	}
	r.members[sessionID] = sess
	r.lastActivity = h.clock()
	sess.addRoom(roomName)

	return len(r.members), r.filters, true
}

// Leave removes sessionID from room, deleting the room if that was its
// last member.
func (h *Hub) Leave(sessionID, roomName string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(sessionID, roomName)
}

func (h *Hub) leaveLocked(sessionID, roomName string) {
	r, ok := h.rooms[roomName]
	if !ok {
		return
	}
	delete(r.members, sessionID)
	if sess, ok := h.sessions[sessionID]; ok {
		sess.removeRoom(roomName)
	}
	if len(r.members) == 0 {
		delete(h.rooms, roomName)
	}
}

// RemoveSession tears a session down and cleans it out of every room it
// had joined; called on disconnect or per-socket send failure.
func (h *Hub) RemoveSession(sessionID string) {
	h.mu.Lock()
	sess, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	for _, roomName := range sess.Rooms() {
		h.leaveLocked(sessionID, roomName)
	}
	delete(h.sessions, sessionID)
	h.mu.Unlock()

	_ = sess.Sender.Close()
}

// serverFrame is the envelope every delivered event is wrapped in: the
// named event type, the room it was delivered through, a server-side
// timestamp, and the outcome payload itself.
type serverFrame struct {
	Type      string          `json:"type"`
	Room      string          `json:"room"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Deliver emits payload, wrapped with eventType, the room name, and a
// server timestamp, once to every member of every room whose filter
// predicate matches event, skipping rooms over the member cap
// (load-shed) and tearing down sessions whose send fails.
func (h *Hub) Deliver(eventType string, event map[string]interface{}, payload []byte) {
	h.mu.Lock()
	type delivery struct {
		sessionID string
		sender    Sender
		frame     []byte
	}
	now := h.clock()
	var targets []delivery
	for _, r := range h.rooms {
		if len(r.members) > h.memberCap {
			h.logger.Warn("room over member cap, load-shedding event",
				logging.NewFields().Component("notifier").Operation("deliver").Custom("room", r.name).Custom("members", len(r.members)).ToZap()...)
			continue
		}
		if !Match(r.filters, event) {
			continue
		}
		frame, err := json.Marshal(serverFrame{Type: eventType, Room: r.name, Timestamp: now, Data: json.RawMessage(payload)})
		if err != nil {
			h.logger.Error("failed to marshal server frame",
				logging.NewFields().Component("notifier").Operation("deliver").Custom("room", r.name).Error(err).ToZap()...)
			continue
		}
		for id, sess := range r.members {
			targets = append(targets, delivery{sessionID: id, sender: sess.Sender, frame: frame})
		}
	}
	h.mu.Unlock()

	for _, t := range targets {
		if err := t.sender.Send(t.frame); err != nil {
			h.logger.Warn("per-socket send failed, tearing down session",
				logging.NewFields().Component("notifier").Operation("deliver").Custom("session_id", t.sessionID).Error(err).ToZap()...)
			h.RemoveSession(t.sessionID)
		}
	}
}

// RoomStats reports the member count of a named room, for diagnostics.
func (h *Hub) RoomStats(roomName string) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomName]
	if !ok {
		return 0, false
	}
	return len(r.members), true
}
