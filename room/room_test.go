// room_test.go - Room router tests.
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

package room

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trystd/trystd/core/log"
)

const (
	testKey  = "4a5d1e9a6f1c83b2e07c6c3f59f2b5d8f1f2e3d4c5b6a79881726354453627a1"
	otherKey = "b1b2b3b4b5b6b7b8b9babbbcbdbebfc0c1c2c3c4c5c6c7c8c9cacbcccdcecfd0"

	waitFor = 5 * time.Second
	tick    = 2 * time.Millisecond
)

type fakeConn struct {
	sync.Mutex

	frames  [][]byte
	control []ControlFrame
	failAll bool
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.Lock()
	defer c.Unlock()
	if c.failAll {
		return errors.New("write on closed connection")
	}
	c.frames = append(c.frames, append([]byte{}, data...))
	return nil
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.Lock()
	defer c.Unlock()
	if c.failAll {
		return errors.New("write on closed connection")
	}
	c.control = append(c.control, *(v.(*ControlFrame)))
	return nil
}

func (c *fakeConn) frameCount() int {
	c.Lock()
	defer c.Unlock()
	return len(c.frames)
}

func (c *fakeConn) controlCount() int {
	c.Lock()
	defer c.Unlock()
	return len(c.control)
}

func (c *fakeConn) frameAt(i int) []byte {
	c.Lock()
	defer c.Unlock()
	return c.frames[i]
}

func (c *fakeConn) lastControl(t *testing.T) ControlFrame {
	c.Lock()
	defer c.Unlock()
	require.NotEmpty(t, c.control)
	return c.control[len(c.control)-1]
}

// blockingConn never completes a write until released, standing in for a
// peer whose socket buffer is full.
type blockingConn struct {
	release chan struct{}
}

func (c *blockingConn) WriteMessage(messageType int, data []byte) error {
	<-c.release
	return nil
}

func (c *blockingConn) WriteJSON(v interface{}) error {
	<-c.release
	return nil
}

func newTestRouter(t *testing.T) *Router {
	logBackend, err := log.New("", "DEBUG", false)
	require.NoError(t, err)
	return NewRouter(logBackend.GetLogger("room_test"))
}

func TestJoinStatuses(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	r := newTestRouter(t)
	a := new(fakeConn)
	b := new(fakeConn)

	r.Join(testKey, a)
	require.Eventually(func() bool { return a.controlCount() == 1 }, waitFor, tick)
	first := a.lastControl(t)
	assert.Equal(FrameConnected, first.Type)
	assert.Equal(StatusWaiting, first.Status)
	assert.Equal(0, first.Peers)

	r.Join(testKey, b)
	require.Eventually(func() bool { return b.controlCount() == 1 }, waitFor, tick)
	second := b.lastControl(t)
	assert.Equal(FrameConnected, second.Type)
	assert.Equal(StatusReady, second.Status)
	assert.Equal(1, second.Peers)

	require.Eventually(func() bool { return a.controlCount() == 2 }, waitFor, tick)
	joined := a.lastControl(t)
	assert.Equal(FramePeerJoined, joined.Type)
	assert.Equal(1, joined.Peers)
}

func TestBroadcastExcludesSender(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	r := newTestRouter(t)
	a := new(fakeConn)
	b := new(fakeConn)
	r.Join(testKey, a)
	r.Join(testKey, b)

	r.Broadcast(testKey, a, 1, []byte("hello"))

	require.Eventually(func() bool { return b.frameCount() == 1 }, waitFor, tick)
	assert.Equal([]byte("hello"), b.frameAt(0))
	assert.Equal(0, a.frameCount())
}

func TestBroadcastToAbsentRoomIsDropped(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	// A frame racing room teardown must not be treated as an error.
	r.Broadcast(testKey, new(fakeConn), 1, []byte("late"))
}

func TestFailingPeerDoesNotAbortDelivery(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	r := newTestRouter(t)
	a := new(fakeConn)
	dead := &fakeConn{failAll: true}
	b := new(fakeConn)
	r.Join(testKey, a)
	r.Join(testKey, dead)
	r.Join(testKey, b)

	r.Broadcast(testKey, a, 1, []byte("hi"))
	require.Eventually(func() bool { return b.frameCount() == 1 }, waitFor, tick)
	assert.Equal(0, dead.frameCount())
}

func TestStuckPeerDoesNotStallRouter(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	r := newTestRouter(t)
	a := new(fakeConn)
	stuck := &blockingConn{release: make(chan struct{})}
	defer close(stuck.release)
	b := new(fakeConn)
	r.Join(testKey, a)
	r.Join(testKey, stuck)
	r.Join(testKey, b)

	// Broadcast must return without waiting on the stuck peer's write.
	done := make(chan struct{})
	go func() {
		r.Broadcast(testKey, a, 1, []byte("hi"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("broadcast blocked on a stuck peer")
	}

	// The healthy member still gets the frame.
	require.Eventually(func() bool { return b.frameCount() == 1 }, waitFor, tick)

	// Other rooms are not held up either.
	c := new(fakeConn)
	r.Join(otherKey, c)
	require.Eventually(func() bool { return c.controlCount() == 1 }, waitFor, tick)
	assert.Equal(StatusWaiting, c.lastControl(t).Status)

	r.Leave(otherKey, c)
	r.Leave(testKey, stuck)
	assert.Equal(2, r.MemberCount(testKey))
}

func TestLeaveLifecycle(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	r := newTestRouter(t)
	a := new(fakeConn)
	b := new(fakeConn)
	r.Join(testKey, a)
	r.Join(testKey, b)
	assert.Equal(2, r.MemberCount(testKey))

	r.Leave(testKey, a)
	assert.Equal(1, r.MemberCount(testKey))
	require.Eventually(func() bool { return b.controlCount() == 2 }, waitFor, tick)
	left := b.lastControl(t)
	assert.Equal(FramePeerLeft, left.Type)
	assert.Equal(1, left.Peers)

	r.Leave(testKey, b)
	assert.Equal(0, r.MemberCount(testKey))

	// Leave on an already-absent room is a no-op.
	r.Leave(testKey, b)
	assert.Equal(0, r.MemberCount(testKey))
}

func TestThreePartyRoom(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	r := newTestRouter(t)
	conns := []*fakeConn{new(fakeConn), new(fakeConn), new(fakeConn)}
	for _, c := range conns {
		r.Join(testKey, c)
	}
	assert.Equal(3, r.MemberCount(testKey))

	r.Broadcast(testKey, conns[0], 2, []byte{0xde, 0xad})
	require.Eventually(func() bool {
		return conns[1].frameCount() == 1 && conns[2].frameCount() == 1
	}, waitFor, tick)
	assert.Equal(0, conns[0].frameCount())
}

func TestConcurrentJoinLeave(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	r := newTestRouter(t)
	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := new(fakeConn)
			r.Join(testKey, c)
			r.Broadcast(testKey, c, 1, []byte("x"))
			r.Leave(testKey, c)
		}()
	}
	wg.Wait()
	assert.Equal(0, r.MemberCount(testKey))
}
