// session.go - Reconnecting room session.
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

package client

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/op/go-logging.v1"

	"github.com/trystd/trystd/core/log"
	"github.com/trystd/trystd/core/retry"
	"github.com/trystd/trystd/core/worker"
)

// State is the connection state of a room session.
type State int

const (
	// StateDisconnected is the terminal state: either the session was
	// halted or the retry ceiling was reached.
	StateDisconnected State = iota

	// StateConnecting means a dial attempt or backoff wait is in progress.
	StateConnecting

	// StateConnected means frames are flowing.
	StateConnected
)

// ErrNotConnected is returned by Send when the session has no live socket.
var ErrNotConnected = errors.New("client: session not connected")

// ErrSessionFailed is the terminal error after the retry ceiling is
// reached; the session will not retry further.
var ErrSessionFailed = errors.New("client: session failed permanently")

// sessionConn is the socket surface a Session uses, satisfied by
// *websocket.Conn and by test fakes.
type sessionConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Frame is a frame received from the room, verbatim as the peer sent it.
// Control frames injected by the relay arrive here too; distinguishing
// them is the consumer's concern.
type Frame struct {
	Type int
	Data []byte
}

// Session is a reconnecting WebSocket connection to one room.  Reconnects
// use capped exponential backoff and fail permanently once the attempt
// ceiling is reached.
type Session struct {
	worker.Worker

	url         string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	dialFn func(url string) (sessionConn, error)
	log    *logging.Logger

	sync.Mutex
	state State
	conn  sessionConn
	err   error

	recvCh chan Frame
}

// NewSession returns a Session for the room socket at url, e.g.
// "ws://host:port/socket/<key>".  The session starts dialing immediately.
func NewSession(url string, logBackend *log.Backend) *Session {
	s := &Session{
		url:         url,
		maxAttempts: retry.DefaultMaxAttempts,
		baseDelay:   retry.DefaultBaseDelay,
		maxDelay:    retry.DefaultMaxDelay,
		dialFn: func(url string) (sessionConn, error) {
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		log:    logBackend.GetLogger("client_session"),
		state:  StateConnecting,
		recvCh: make(chan Frame, 16),
	}
	s.Go(s.connectWorker)
	return s
}

// Recv returns the channel of received frames.  It is closed when the
// session reaches its terminal state.
func (s *Session) Recv() <-chan Frame {
	return s.recvCh
}

// State returns the current connection state.
func (s *Session) State() State {
	s.Lock()
	defer s.Unlock()
	return s.state
}

// Err returns the terminal error, if any.
func (s *Session) Err() error {
	s.Lock()
	defer s.Unlock()
	return s.err
}

// Send writes a frame to the room.
func (s *Session) Send(messageType int, data []byte) error {
	s.Lock()
	conn := s.conn
	s.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteMessage(messageType, data)
}

func (s *Session) setState(state State, conn sessionConn, err error) {
	s.Lock()
	defer s.Unlock()
	s.state = state
	s.conn = conn
	if err != nil {
		s.err = err
	}
}

func (s *Session) connectWorker() {
	defer close(s.recvCh)

	attempt := 0
	for {
		s.setState(StateConnecting, nil, nil)
		conn, err := s.dialFn(s.url)
		if err != nil {
			attempt++
			if attempt >= s.maxAttempts {
				s.log.Errorf("giving up after %d attempts: %v", attempt, err)
				s.setState(StateDisconnected, nil, ErrSessionFailed)
				return
			}
			delay := retry.Delay(s.baseDelay, s.maxDelay, retry.DefaultJitter, attempt)
			s.log.Debugf("dial failed (attempt %d): %v, retrying in %v", attempt, err, delay)
			select {
			case <-time.After(delay):
				continue
			case <-s.HaltCh():
				s.setState(StateDisconnected, nil, nil)
				return
			}
		}

		attempt = 0
		s.setState(StateConnected, conn, nil)
		s.log.Debug("connected")

		if halted := s.readLoop(conn); halted {
			s.setState(StateDisconnected, nil, nil)
			return
		}
		// The socket dropped; go back to Connecting.
	}
}

// readLoop pumps frames until the socket drops or the session is halted.
func (s *Session) readLoop(conn sessionConn) (halted bool) {
	defer conn.Close()

	readErr := make(chan error, 1)
	go func() {
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case s.recvCh <- Frame{Type: messageType, Data: data}:
			case <-s.HaltCh():
				readErr <- nil
				return
			}
		}
	}()

	select {
	case err := <-readErr:
		if err != nil {
			s.log.Debugf("socket dropped: %v", err)
		}
		select {
		case <-s.HaltCh():
			return true
		default:
		}
		return false
	case <-s.HaltCh():
		conn.Close()
		<-readErr
		return true
	}
}
