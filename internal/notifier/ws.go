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
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// writeDeadline bounds a single per-socket send; a breach tears the
// session down.
const writeDeadline = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSender adapts a *websocket.Conn to Sender. gorilla/websocket
// requires a single writer at a time, hence the mutex.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSender) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSender) Close() error {
	return s.conn.Close()
}

// clientMessage is the join-room/leave-room protocol envelope a
// connected client sends.
type clientMessage struct {
	Type    string                 `json:"type"`
	Room    string                 `json:"room"`
	Filters map[string]interface{} `json:"filters,omitempty"`
	UserID  string                 `json:"userId,omitempty"`
}

// welcomeMessage greets a newly connected session before it has joined
// any room.
type welcomeMessage struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

// roomJoinedMessage is sent back once a join-room is recorded: current
// member count and the room's effective filters.
type roomJoinedMessage struct {
	Type        string                 `json:"type"`
	Room        string                 `json:"room"`
	MemberCount int                    `json:"memberCount"`
	Filters     map[string]interface{} `json:"filters"`
	Timestamp   time.Time              `json:"timestamp"`
}

// ServeWS upgrades the request to a WebSocket, registers a Session with
// hub, sends a welcome frame, and services the join-room/leave-room
// protocol for the life of the connection.
func ServeWS(hub *Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		sender := &wsSender{conn: conn}
		sess := hub.Register(uuid.NewString(), r.RemoteAddr, r.UserAgent(), sender)
		defer hub.RemoveSession(sess.ID)

		welcome, err := json.Marshal(welcomeMessage{Type: "welcome", SessionID: sess.ID, Timestamp: time.Now().UTC()})
		if err == nil {
			_ = sender.Send(welcome)
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}

			switch msg.Type {
			case "join-room":
				count, filters, ok := hub.Join(sess.ID, msg.Room, msg.Filters)
				if !ok {
					continue
				}
				reply, err := json.Marshal(roomJoinedMessage{
					Type:        "room-joined",
					Room:        msg.Room,
					MemberCount: count,
					Filters:     filters,
					Timestamp:   time.Now().UTC(),
				})
				if err != nil {
					continue
				}
				_ = sender.Send(reply)
			case "leave-room":
				hub.Leave(sess.ID, msg.Room)
			}
		}
	}
}
