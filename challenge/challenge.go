// challenge.go - Clock-windowed authentication challenges.
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

// Package challenge implements clock-windowed one-time authentication
// challenges.  A challenge is a deterministic function of wall-clock time:
// the configured prefix concatenated with the current window number, where
// the window number is the Unix time in milliseconds divided by the window
// period.  A challenge remains valid for the window it was issued in plus
// the following window, which tolerates clock skew between issuance and
// signature submission while bounding the replay window to at most two
// periods.
package challenge

import (
	"strconv"
	"time"
)

const (
	// DefaultPrefix is the default challenge prefix.
	DefaultPrefix = "otp:"

	// DefaultPeriod is the default challenge window duration.
	DefaultPeriod = 10 * time.Second
)

// Clock issues and validates clock-windowed challenges.
type Clock struct {
	prefix string
	period time.Duration

	nowFn func() time.Time
}

// New returns a Clock with the given challenge prefix and window period.
func New(prefix string, period time.Duration) *Clock {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Clock{
		prefix: prefix,
		period: period,
		nowFn:  time.Now,
	}
}

// Default returns a Clock with the default prefix and period.
func Default() *Clock {
	return New(DefaultPrefix, DefaultPeriod)
}

// Period returns the challenge window duration.
func (c *Clock) Period() time.Duration {
	return c.period
}

func (c *Clock) window(t time.Time) int64 {
	return t.UnixMilli() / c.period.Milliseconds()
}

func (c *Clock) forWindow(w int64) string {
	return c.prefix + strconv.FormatInt(w, 10)
}

// Issue returns the challenge for the current window and the instant the
// current window ends.  Note that the returned challenge is still accepted
// for one further window past validUntil.
func (c *Clock) Issue() (challenge string, validUntil time.Time) {
	w := c.window(c.nowFn())
	return c.forWindow(w), time.UnixMilli((w + 1) * c.period.Milliseconds())
}

// IsValid returns true iff candidate is the challenge for the current
// window or the immediately preceding one.
func (c *Clock) IsValid(candidate string) bool {
	w := c.window(c.nowFn())
	return candidate == c.forWindow(w) || candidate == c.forWindow(w-1)
}
