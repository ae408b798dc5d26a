// server.go - Rendezvous relay server.
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

// Package server provides the rendezvous relay: challenge issuance, the
// inbox HTTP boundary and the WebSocket room router bound to one listener.
package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/op/go-logging.v1"

	"github.com/trystd/trystd/challenge"
	"github.com/trystd/trystd/core/log"
	"github.com/trystd/trystd/core/worker"
	"github.com/trystd/trystd/inbox"
	"github.com/trystd/trystd/inbox/boltinbox"
	"github.com/trystd/trystd/internal/instrument"
	"github.com/trystd/trystd/room"
	"github.com/trystd/trystd/server/config"
)

const (
	inboxDBFile     = "inboxes.db"
	shutdownTimeout = 5 * time.Second
)

// Server is a rendezvous relay server instance.
type Server struct {
	worker.Worker

	cfg *config.Config

	logBackend *log.Backend
	log        *logging.Logger

	clock  *challenge.Clock
	store  inbox.Store
	router *room.Router

	listener   net.Listener
	httpServer *http.Server
	upgrader   websocket.Upgrader

	connLock sync.Mutex
	conns    map[*websocket.Conn]struct{}
}

// New returns a running Server constructed from the provided config.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:   cfg,
		clock: challenge.New(cfg.Challenge.Prefix, cfg.Challenge.Window()),
	}

	if err := os.MkdirAll(cfg.Server.DataDir, 0700); err != nil {
		return nil, err
	}

	logFile := cfg.Logging.File
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = filepath.Join(cfg.Server.DataDir, logFile)
	}
	var err error
	if s.logBackend, err = log.New(logFile, cfg.Logging.Level, cfg.Logging.Disable); err != nil {
		return nil, err
	}
	s.log = s.logBackend.GetLogger("server")

	if s.store, err = boltinbox.New(filepath.Join(cfg.Server.DataDir, inboxDBFile), s.logBackend.GetLogger("boltinbox")); err != nil {
		return nil, err
	}
	s.router = room.NewRouter(s.logBackend.GetLogger("room"))
	s.upgrader = websocket.Upgrader{
		// Peers authenticate by knowing the room key, not by origin.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	if s.listener, err = net.Listen("tcp", cfg.Server.Address); err != nil {
		s.store.Close()
		return nil, err
	}
	s.httpServer = &http.Server{
		Handler:           s.buildMux(),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	if cfg.Server.MetricsAddress != "" {
		instrument.Init(cfg.Server.MetricsAddress, s.logBackend.GetLogger("instrument"))
	}

	s.log.Noticef("relay listening on %s", s.listener.Addr())
	s.Go(s.serve)
	s.Go(s.haltWorker)
	return s, nil
}

// Addr returns the address the relay is listening on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// RotateLog reopens the log file, for use on SIGHUP.
func (s *Server) RotateLog() error {
	return s.logBackend.Rotate()
}

func (s *Server) serve() {
	if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		s.log.Errorf("http server exited: %v", err)
	}
}

func (s *Server) haltWorker() {
	<-s.HaltCh()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warningf("http shutdown: %v", err)
	}
	// WebSocket connections are hijacked and survive Shutdown, close them.
	s.closeConns()
	s.httpServer.Close()
	if s.cfg.Server.MetricsAddress != "" {
		instrument.Shutdown(ctx)
	}
	s.store.Close()
	s.log.Notice("relay halted")
}
