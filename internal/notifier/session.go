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

package notifier

import (
	"sync"
	"time"
)

// Sender abstracts the per-socket write path so the Hub can be tested
// without a real network connection; the WebSocket handler supplies the
// concrete implementation.
type Sender interface {
	Send(payload []byte) error
	Close() error
}

// Session is one connected client.
type Session struct {
	ID         string
	CreatedAt  time.Time
	RemoteAddr string
	UserAgent  string
	Sender     Sender

	mu    sync.Mutex
	rooms map[string]bool
}

func newSession(id, remoteAddr, userAgent string, sender Sender, now time.Time) *Session {
	return &Session{
		ID:         id,
		CreatedAt:  now,
		RemoteAddr: remoteAddr,
		UserAgent:  userAgent,
		Sender:     sender,
		rooms:      make(map[string]bool),
	}
}

func (s *Session) addRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room] = true
}

func (s *Session) removeRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, room)
}

// Rooms returns the names of every room this session currently belongs
// to.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		out = append(out, r)
	}
	return out
}
