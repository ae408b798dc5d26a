// session_test.go - Reconnecting room session tests.
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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trystd/trystd/core/log"
	"github.com/trystd/trystd/core/retry"
)

type fakeSessionConn struct {
	frames  chan Frame
	closeCh chan struct{}
}

func newFakeSessionConn() *fakeSessionConn {
	return &fakeSessionConn{
		frames:  make(chan Frame, 16),
		closeCh: make(chan struct{}),
	}
}

func (c *fakeSessionConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.frames:
		return f.Type, f.Data, nil
	case <-c.closeCh:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeSessionConn) WriteMessage(messageType int, data []byte) error {
	return nil
}

func (c *fakeSessionConn) Close() error {
	select {
	case <-c.closeCh:
	default:
		close(c.closeCh)
	}
	return nil
}

func newTestSession(t *testing.T, dialFn func(string) (sessionConn, error)) *Session {
	logBackend, err := log.New("", "DEBUG", false)
	require.NoError(t, err)
	s := &Session{
		url:         "ws://unused/socket/test",
		maxAttempts: 3,
		baseDelay:   time.Millisecond,
		maxDelay:    5 * time.Millisecond,
		dialFn:      dialFn,
		log:         logBackend.GetLogger("session_test"),
		state:       StateConnecting,
		recvCh:      make(chan Frame, 16),
	}
	s.Go(s.connectWorker)
	return s
}

func waitForState(t *testing.T, s *Session, want State) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session never reached state %d, stuck at %d", want, s.State())
}

func TestSessionFailsPermanently(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	dials := 0
	s := newTestSession(t, func(string) (sessionConn, error) {
		dials++
		return nil, errors.New("connection refused")
	})

	waitForState(t, s, StateDisconnected)
	assert.Equal(3, dials)
	assert.ErrorIs(s.Err(), ErrSessionFailed)

	// The receive channel closes on permanent failure.
	_, open := <-s.Recv()
	assert.False(open)
	s.Halt()
}

func TestSessionReconnects(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	conns := make(chan *fakeSessionConn, 2)
	dials := 0
	s := newTestSession(t, func(string) (sessionConn, error) {
		dials++
		if dials == 2 {
			// One transient failure between the two live connections.
			return nil, errors.New("connection refused")
		}
		c := newFakeSessionConn()
		conns <- c
		return c, nil
	})

	waitForState(t, s, StateConnected)
	first := <-conns
	first.frames <- Frame{Type: 1, Data: []byte("hello")}
	got := <-s.Recv()
	assert.Equal([]byte("hello"), got.Data)

	// Drop the socket; the session must dial again.
	first.Close()
	waitForState(t, s, StateConnected)
	second := <-conns
	second.frames <- Frame{Type: 1, Data: []byte("again")}
	got = <-s.Recv()
	assert.Equal([]byte("again"), got.Data)
	assert.Equal(3, dials)

	s.Halt()
	waitForState(t, s, StateDisconnected)
	assert.NoError(s.Err())
}

func TestSessionSendWhileDisconnected(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	s := newTestSession(t, func(string) (sessionConn, error) {
		return nil, errors.New("connection refused")
	})
	waitForState(t, s, StateDisconnected)
	assert.ErrorIs(s.Send(1, []byte("x")), ErrNotConnected)
	s.Halt()
}

func TestSessionBackoffUsesRetryDelays(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	// The ceiling delay must bound every computed backoff.
	for attempt := 0; attempt < retry.DefaultMaxAttempts; attempt++ {
		d := retry.Delay(time.Millisecond, 5*time.Millisecond, 0, attempt)
		assert.LessOrEqual(d, 5*time.Millisecond)
	}
}
