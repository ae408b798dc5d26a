// websocket.go - Relay WebSocket boundary.
// Copyright (C) 2026  Trystd Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package server

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trystd/trystd/internal/instrument"
)

// A room key is the hex encoded hash of the ECDH shared secret.
var roomKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

const writeWait = 10 * time.Second

// deadlineConn bounds every write so a dead peer's writer goroutine cannot
// hang forever on a full socket buffer.
type deadlineConn struct {
	*websocket.Conn
}

func (c deadlineConn) WriteMessage(messageType int, data []byte) error {
	c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(messageType, data)
}

func (c deadlineConn) WriteJSON(v interface{}) error {
	c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(v)
}

func (s *Server) onSocket(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !roomKeyPattern.MatchString(key) {
		writeError(w, http.StatusBadRequest, "invalid room key")
		return
	}
	key = strings.ToLower(key)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.log.Debugf("socket upgrade failed: %v", err)
		return
	}

	member := deadlineConn{conn}
	s.router.Join(key, member)
	instrument.RoomJoined()
	s.trackConn(conn)
	go s.socketLoop(key, member)
}

// socketLoop pumps frames from one socket into its room until the socket
// closes.  A close is the only termination signal; it maps to the room
// leave transition.
func (s *Server) socketLoop(key string, conn deadlineConn) {
	defer func() {
		s.router.Leave(key, conn)
		s.untrackConn(conn.Conn)
		conn.Close()
	}()
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debugf("room %s: socket closed: %v", key, err)
			}
			return
		}
		s.router.Broadcast(key, conn, messageType, data)
		instrument.FrameRelayed()
	}
}

func (s *Server) trackConn(conn *websocket.Conn) {
	s.connLock.Lock()
	defer s.connLock.Unlock()
	if s.conns == nil {
		s.conns = make(map[*websocket.Conn]struct{})
	}
	s.conns[conn] = struct{}{}
}

func (s *Server) untrackConn(conn *websocket.Conn) {
	s.connLock.Lock()
	defer s.connLock.Unlock()
	delete(s.conns, conn)
}

// closeConns closes every live socket.  Hijacked connections outlive
// http.Server.Shutdown, so halting the relay has to close them directly.
func (s *Server) closeConns() {
	s.connLock.Lock()
	defer s.connLock.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}
