// instrument.go - Prometheus instrumentation.
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

// Package instrument exposes relay counters via Prometheus.
package instrument

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"
)

var (
	initOnce sync.Once
	srv      *http.Server
	srvAddr  net.Addr
)

var (
	inboxesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trystd_inboxes_created_total",
			Help: "Number of inboxes created",
		},
	)
	messagesPosted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trystd_inbox_messages_posted_total",
			Help: "Number of public keys posted to inboxes",
		},
	)
	authFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trystd_auth_failures_total",
			Help: "Number of rejected authentication attempts",
		},
	)
	roomJoins = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trystd_room_joins_total",
			Help: "Number of socket joins across all rooms",
		},
	)
	framesRelayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trystd_frames_relayed_total",
			Help: "Number of frames forwarded between room members",
		},
	)
)

// Init registers the relay collectors and starts the Prometheus exposition
// listener on address.
func Init(address string, log *logging.Logger) {
	initOnce.Do(func() {
		prometheus.MustRegister(inboxesCreated)
		prometheus.MustRegister(messagesPosted)
		prometheus.MustRegister(authFailures)
		prometheus.MustRegister(roomJoins)
		prometheus.MustRegister(framesRelayed)

		ln, err := net.Listen("tcp", address)
		if err != nil {
			log.Errorf("metrics listener failed: %v", err)
			return
		}
		srvAddr = ln.Addr()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Handler: mux}
		go func() {
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics listener exited: %v", err)
			}
		}()
		log.Noticef("metrics listening on %s", srvAddr)
	})
}

// Addr returns the address the exposition listener is bound to, nil when
// none was started.
func Addr() net.Addr {
	return srvAddr
}

// Shutdown stops the exposition listener, if one was started.
func Shutdown(ctx context.Context) {
	if srv != nil {
		srv.Shutdown(ctx)
	}
}

// InboxCreated increments the inbox creation counter.
func InboxCreated() {
	inboxesCreated.Inc()
}

// MessagePosted increments the posted key counter.
func MessagePosted() {
	messagesPosted.Inc()
}

// AuthFailure increments the rejected authentication counter.
func AuthFailure() {
	authFailures.Inc()
}

// RoomJoined increments the room join counter.
func RoomJoined() {
	roomJoins.Inc()
}

// FrameRelayed increments the relayed frame counter.
func FrameRelayed() {
	framesRelayed.Inc()
}
