// room.go - In-memory rendezvous room router.
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

// Package room implements the in-memory room router: a registry mapping a
// room key (the hash of a shared secret both peers derive independently)
// to the set of currently connected sockets.  A room exists only while at
// least one member is joined; the router holds no state for an empty room.
//
// Frames forwarded between members are opaque to the router.  The only
// frames the router itself produces are the connected, peer_joined and
// peer_left control frames.
//
// Delivery to each member goes through a buffered per-member queue drained
// by a dedicated writer goroutine, so a slow or dead peer never blocks the
// registry lock or delivery to other members.  Frames to a member whose
// queue is full are dropped.
package room

import (
	"sync"

	"gopkg.in/op/go-logging.v1"
)

// Control frame types injected by the router.
const (
	FrameConnected  = "connected"
	FramePeerJoined = "peer_joined"
	FramePeerLeft   = "peer_left"

	// StatusWaiting is sent to the first member of a fresh room.
	StatusWaiting = "waiting"

	// StatusReady is sent to a member joining an occupied room.
	StatusReady = "ready"
)

const sendQueueSize = 64

// ControlFrame is the JSON control frame sent by the router itself.  All
// other traffic is forwarded verbatim.
type ControlFrame struct {
	Type   string `json:"type"`
	Status string `json:"status,omitempty"`
	Peers  int    `json:"peers"`
}

// Conn is the transport connection surface the router needs.  It is
// satisfied by *websocket.Conn.
type Conn interface {
	// WriteMessage writes a raw frame with the given message type.
	WriteMessage(messageType int, data []byte) error

	// WriteJSON writes v as a JSON text frame.
	WriteJSON(v interface{}) error
}

// frame is one queued delivery: either a raw forwarded frame or a control
// frame.
type frame struct {
	messageType int
	data        []byte
	control     *ControlFrame
}

// member is one joined connection and its send queue.  The queue is closed
// on leave, which terminates the writer goroutine.
type member struct {
	conn   Conn
	sendCh chan frame
}

// Router is an owned room registry.  All state transitions are serialized
// under a single lock so that concurrent joins and leaves on the same key
// can neither corrupt the member count nor lose a broadcast.  The lock
// covers only registry state and queue insertion, never socket I/O.
type Router struct {
	sync.Mutex

	rooms map[string]map[Conn]*member
	log   *logging.Logger
}

// NewRouter returns an empty room registry.
func NewRouter(log *logging.Logger) *Router {
	return &Router{
		rooms: make(map[string]map[Conn]*member),
		log:   log,
	}
}

// Join adds c to the room for key, creating the room if needed.  The new
// member is told the pre-join peer count, with status waiting when it is
// alone and ready otherwise; every pre-existing member is sent a
// peer_joined frame.
func (r *Router) Join(key string, c Conn) {
	r.Lock()
	defer r.Unlock()

	members := r.rooms[key]
	if members == nil {
		members = make(map[Conn]*member)
		r.rooms[key] = members
	}
	prior := len(members)
	m := &member{conn: c, sendCh: make(chan frame, sendQueueSize)}
	members[c] = m
	go r.writer(key, m)

	status := StatusWaiting
	if prior > 0 {
		status = StatusReady
	}
	r.enqueue(key, m, frame{control: &ControlFrame{Type: FrameConnected, Status: status, Peers: prior}})
	for _, peer := range members {
		if peer != m {
			r.enqueue(key, peer, frame{control: &ControlFrame{Type: FramePeerJoined, Peers: len(members) - 1}})
		}
	}
	r.log.Debugf("room %s: join, %d members", key, len(members))
}

// Broadcast forwards a raw frame to every member of the room except the
// sender.  A broadcast to a room that no longer exists is silently
// dropped: frames may race room teardown and that is tolerated.  Delivery
// is queued, never written inline, so a slow member can neither abort nor
// delay delivery to the rest.
func (r *Router) Broadcast(key string, sender Conn, messageType int, data []byte) {
	r.Lock()
	defer r.Unlock()

	members := r.rooms[key]
	if members == nil {
		return
	}
	for c, m := range members {
		if c == sender {
			continue
		}
		r.enqueue(key, m, frame{messageType: messageType, data: data})
	}
}

// Leave removes c from the room for key.  The room is destroyed when its
// last member leaves; otherwise the remaining members are sent a peer_left
// frame with the new member count.  Leaving an absent room is a no-op,
// sockets may close after their room was already torn down.
func (r *Router) Leave(key string, c Conn) {
	r.Lock()
	defer r.Unlock()

	members := r.rooms[key]
	if members == nil {
		return
	}
	m, ok := members[c]
	if !ok {
		return
	}
	delete(members, c)
	close(m.sendCh)
	if len(members) == 0 {
		delete(r.rooms, key)
		r.log.Debugf("room %s: destroyed", key)
		return
	}
	for _, peer := range members {
		r.enqueue(key, peer, frame{control: &ControlFrame{Type: FramePeerLeft, Peers: len(members)}})
	}
	r.log.Debugf("room %s: leave, %d members", key, len(members))
}

// MemberCount returns the number of members currently joined to key, zero
// when the room is absent.
func (r *Router) MemberCount(key string) int {
	r.Lock()
	defer r.Unlock()
	return len(r.rooms[key])
}

// enqueue queues a frame for delivery to m, dropping it when the member's
// queue is full.  The caller holds the router lock, which is what makes
// the send-versus-close race with Leave impossible.
func (r *Router) enqueue(key string, m *member, f frame) {
	select {
	case m.sendCh <- f:
	default:
		r.log.Debugf("room %s: send queue full, dropping frame", key)
	}
}

// writer drains one member's send queue until it is closed by Leave.  All
// socket writes for a member happen here, off the router lock.
func (r *Router) writer(key string, m *member) {
	for f := range m.sendCh {
		var err error
		if f.control != nil {
			err = m.conn.WriteJSON(f.control)
		} else {
			err = m.conn.WriteMessage(f.messageType, f.data)
		}
		if err != nil {
			r.log.Debugf("room %s: dropping frame to member: %v", key, err)
		}
	}
}
