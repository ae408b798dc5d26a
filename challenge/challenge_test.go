// challenge_test.go - Clock-windowed challenge tests.
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

package challenge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clockAt(t0 time.Time) *Clock {
	c := Default()
	c.nowFn = func() time.Time { return t0 }
	return c
}

func TestIssueIsDeterministic(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	now := time.UnixMilli(1700000005000)
	c := clockAt(now)

	m1, u1 := c.Issue()
	m2, u2 := c.Issue()
	assert.Equal(m1, m2)
	assert.Equal(u1, u2)
	assert.Equal("otp:170000000", m1)
	assert.Equal(time.UnixMilli(1700000010000), u1)
}

func TestValidityWindow(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	base := time.UnixMilli(1700000000000)
	c := clockAt(base)
	m, _ := c.Issue()
	require.True(c.IsValid(m))

	// Still valid one full window later.
	c.nowFn = func() time.Time { return base.Add(DefaultPeriod) }
	assert.True(c.IsValid(m))

	// Rejected once the clock reaches the second window after issuance.
	c.nowFn = func() time.Time { return base.Add(2 * DefaultPeriod) }
	assert.False(c.IsValid(m))
}

func TestPreviousWindowAccepted(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	base := time.UnixMilli(1700000000000)
	c := clockAt(base)
	w := c.window(base)
	assert.True(c.IsValid(c.forWindow(w - 1)))
	assert.False(c.IsValid(c.forWindow(w - 2)))
	assert.False(c.IsValid(c.forWindow(w + 1)))
}

func TestGarbageRejected(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	c := clockAt(time.UnixMilli(1700000000000))
	assert.False(c.IsValid(""))
	assert.False(c.IsValid("otp:"))
	assert.False(c.IsValid("bogus"))
}
