// config_test.go - Relay server configuration tests.
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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	cfg, err := Load([]byte(`
[Server]
DataDir = "/var/lib/trystd"
`))
	require.NoError(err)
	assert.Equal("127.0.0.1:34573", cfg.Server.Address)
	assert.Equal("NOTICE", cfg.Logging.Level)
	assert.Equal("otp:", cfg.Challenge.Prefix)
	assert.Equal(10*time.Second, cfg.Challenge.Window())
}

func TestLoadRejectsUndecoded(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	_, err := Load([]byte(`
[Server]
DataDir = "/var/lib/trystd"
Bogus = true
`))
	assert.Error(err)
}

func TestLoadRejectsMissingDataDir(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	_, err := Load([]byte("[Server]\n"))
	assert.Error(err)

	_, err = Load([]byte(`
[Server]
DataDir = "relative/path"
`))
	assert.Error(err)
}
