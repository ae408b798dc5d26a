// inbox.go - Inbox store interface.
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

// Package inbox defines the durable inbox store: a per-address registry of
// public keys plus an append-only log of keys posted to each inbox.
// Inboxes are used purely for one-shot public key exchange before a direct
// room is established.
//
// Posting to an inbox is deliberately unauthenticated: any party that knows
// an address may append a key, and the owner is expected to disregard keys
// it does not recognize.  This is a stated property of the protocol, not a
// defect of the store.
package inbox

import (
	"errors"
	"time"
)

var (
	// ErrInboxExists is returned by CreateInbox when the address is already
	// registered.
	ErrInboxExists = errors.New("inbox: already exists")

	// ErrNoSuchInbox is returned when the address has no registered inbox.
	ErrNoSuchInbox = errors.New("inbox: no such inbox")
)

// Inbox is a registered inbox: a normalized address and the public key it
// was derived from.  Inboxes are created once and never updated.
type Inbox struct {
	Address   string
	PublicKey []byte
	CreatedAt time.Time
}

// Message is a public key posted to an inbox, ordered by a per-inbox
// monotonically increasing sequence number.  Messages are immutable.
type Message struct {
	ID        uint64
	PublicKey []byte
	CreatedAt time.Time
}

// Store is the interface provided by all inbox store implementations.
type Store interface {
	// CreateInbox atomically registers an inbox for address.  Under
	// concurrent creation for the same address exactly one call succeeds
	// and the rest observe ErrInboxExists.
	CreateInbox(address string, publicKey []byte) (*Inbox, error)

	// GetInbox returns the inbox registered for address, or ErrNoSuchInbox.
	// Address lookups are case-insensitive.
	GetInbox(address string) (*Inbox, error)

	// AppendMessage unconditionally appends a sender's public key to the
	// address's message log.  Existence of the target inbox is the
	// caller's concern.
	AppendMessage(address string, senderPublicKey []byte) (*Message, error)

	// Messages returns the address's messages, most recent first.
	Messages(address string) ([]*Message, error)

	// PurgeMessages removes all messages from the address's log.
	PurgeMessages(address string) error

	// DeleteInbox removes an inbox and its messages.  This is an operator
	// level operation with no protocol surface.
	DeleteInbox(address string) error

	// Close flushes and closes the store.
	Close()
}
