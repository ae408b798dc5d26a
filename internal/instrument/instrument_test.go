// instrument_test.go - Prometheus instrumentation tests.
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

package instrument

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trystd/trystd/core/log"
)

// Init and Shutdown act on package state, so the whole lifecycle lives in
// one test.
func TestExpositionLifecycle(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	logBackend, err := log.New("", "DEBUG", false)
	require.NoError(err)

	Init("127.0.0.1:0", logBackend.GetLogger("instrument_test"))
	require.NotNil(Addr())

	InboxCreated()
	FrameRelayed()

	url := "http://" + Addr().String() + "/metrics"
	resp, err := http.Get(url)
	require.NoError(err)
	resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)

	// A second Init is a no-op rather than a duplicate registration.
	Init("127.0.0.1:0", logBackend.GetLogger("instrument_test"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	Shutdown(ctx)

	_, err = http.Get(url)
	assert.Error(err)
}
