// config.go - Relay server configuration.
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

// Package config provides the relay server configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultAddress         = "127.0.0.1:34573"
	defaultLogLevel        = "NOTICE"
	defaultChallengePrefix = "otp:"
	defaultChallengeWindow = 10
)

// Server is the relay server configuration.
type Server struct {
	// Address is the TCP address the relay listens on.
	Address string

	// DataDir is the absolute path to the relay's state directory.
	DataDir string

	// MetricsAddress is the TCP address of the optional Prometheus
	// exposition listener.  Metrics are disabled when empty.
	MetricsAddress string
}

func (sCfg *Server) validate() error {
	if sCfg.Address == "" {
		sCfg.Address = defaultAddress
	}
	if sCfg.DataDir == "" {
		return errors.New("config: Server: DataDir is not set")
	}
	if !filepath.IsAbs(sCfg.DataDir) {
		return fmt.Errorf("config: Server: DataDir '%v' is not an absolute path", sCfg.DataDir)
	}
	return nil
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	if lCfg.Level == "" {
		lCfg.Level = defaultLogLevel
	}
	return nil
}

// Challenge is the authentication challenge configuration.
type Challenge struct {
	// Prefix is the string prepended to the challenge window number.
	Prefix string

	// WindowSeconds is the challenge window duration in seconds.
	WindowSeconds int
}

func (cCfg *Challenge) validate() error {
	if cCfg.Prefix == "" {
		cCfg.Prefix = defaultChallengePrefix
	}
	if cCfg.WindowSeconds == 0 {
		cCfg.WindowSeconds = defaultChallengeWindow
	}
	if cCfg.WindowSeconds < 0 {
		return fmt.Errorf("config: Challenge: WindowSeconds %d is invalid", cCfg.WindowSeconds)
	}
	return nil
}

// Window returns the challenge window duration.
func (cCfg *Challenge) Window() time.Duration {
	return time.Duration(cCfg.WindowSeconds) * time.Second
}

// Config is the top level relay configuration.
type Config struct {
	Server    *Server
	Logging   *Logging
	Challenge *Challenge
}

// FixupAndValidate applies defaults to unset fields and validates the
// configuration.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Server == nil {
		return errors.New("config: No Server block was present")
	}
	if cfg.Logging == nil {
		cfg.Logging = new(Logging)
	}
	if cfg.Challenge == nil {
		cfg.Challenge = new(Challenge)
	}
	if err := cfg.Server.validate(); err != nil {
		return err
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	return cfg.Challenge.validate()
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
