// boltinbox.go - BoltDB backed inbox store.
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

// Package boltinbox implements the inbox store with a simple boltdb based
// backend.
package boltinbox

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/op/go-logging.v1"

	"github.com/trystd/trystd/inbox"
)

const (
	metadataBucket = "metadata"
	versionKey     = "version"

	inboxesBucket  = "inboxes"
	inboxMetaKey   = "meta"
	messagesBucket = "messages"

	inboxStorageVersion = 0
)

type inboxRecord struct {
	Address   string `cbor:"address"`
	PublicKey []byte `cbor:"pubkey"`
	CreatedAt int64  `cbor:"createdAt"`
}

type messageRecord struct {
	PublicKey []byte `cbor:"pubkey"`
	CreatedAt int64  `cbor:"createdAt"`
}

type boltInbox struct {
	db  *bolt.DB
	log *logging.Logger
}

func normalize(address string) string {
	return strings.ToLower(address)
}

func (d *boltInbox) CreateInbox(address string, publicKey []byte) (*inbox.Inbox, error) {
	addr := normalize(address)
	now := time.Now()
	raw, err := cbor.Marshal(&inboxRecord{
		Address:   addr,
		PublicKey: publicKey,
		CreatedAt: now.Unix(),
	})
	if err != nil {
		return nil, err
	}

	// The meta key, not the bucket, is the registration marker: stray
	// appends may have created the bucket already, and such a bucket is
	// adopted rather than treated as a registered inbox.  The single update
	// transaction is the uniqueness guarantee: under concurrent creation
	// exactly one transaction commits the meta key.
	err = d.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.Bucket([]byte(inboxesBucket)).CreateBucketIfNotExists([]byte(addr))
		if err != nil {
			return err
		}
		if bkt.Get([]byte(inboxMetaKey)) != nil {
			return inbox.ErrInboxExists
		}
		if err = bkt.Put([]byte(inboxMetaKey), raw); err != nil {
			return err
		}
		_, err = bkt.CreateBucketIfNotExists([]byte(messagesBucket))
		return err
	})
	if err != nil {
		return nil, err
	}
	d.log.Debugf("created inbox %s", addr)
	return &inbox.Inbox{
		Address:   addr,
		PublicKey: publicKey,
		CreatedAt: time.Unix(now.Unix(), 0),
	}, nil
}

func (d *boltInbox) GetInbox(address string) (*inbox.Inbox, error) {
	addr := normalize(address)
	var rec inboxRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(inboxesBucket)).Bucket([]byte(addr))
		if bkt == nil {
			return inbox.ErrNoSuchInbox
		}
		raw := bkt.Get([]byte(inboxMetaKey))
		if raw == nil {
			return inbox.ErrNoSuchInbox
		}
		return cbor.Unmarshal(raw, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &inbox.Inbox{
		Address:   rec.Address,
		PublicKey: rec.PublicKey,
		CreatedAt: time.Unix(rec.CreatedAt, 0),
	}, nil
}

func (d *boltInbox) AppendMessage(address string, senderPublicKey []byte) (*inbox.Message, error) {
	addr := normalize(address)
	now := time.Now()
	raw, err := cbor.Marshal(&messageRecord{
		PublicKey: senderPublicKey,
		CreatedAt: now.Unix(),
	})
	if err != nil {
		return nil, err
	}

	var id uint64
	err = d.db.Update(func(tx *bolt.Tx) error {
		// The append is unconditional: a missing inbox bucket is created
		// rather than rejected, existence checks are the caller's concern.
		bkt, err := tx.Bucket([]byte(inboxesBucket)).CreateBucketIfNotExists([]byte(addr))
		if err != nil {
			return err
		}
		msgs, err := bkt.CreateBucketIfNotExists([]byte(messagesBucket))
		if err != nil {
			return err
		}
		id, err = msgs.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], id)
		return msgs.Put(key[:], raw)
	})
	if err != nil {
		return nil, err
	}
	d.log.Debugf("appended message %d to inbox %s", id, addr)
	return &inbox.Message{
		ID:        id,
		PublicKey: senderPublicKey,
		CreatedAt: time.Unix(now.Unix(), 0),
	}, nil
}

func (d *boltInbox) Messages(address string) ([]*inbox.Message, error) {
	addr := normalize(address)
	messages := make([]*inbox.Message, 0)
	err := d.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(inboxesBucket)).Bucket([]byte(addr))
		if bkt == nil {
			return nil
		}
		msgs := bkt.Bucket([]byte(messagesBucket))
		if msgs == nil {
			return nil
		}
		c := msgs.Cursor()
		// Most recent first.
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec messageRecord
			if err := cbor.Unmarshal(v, &rec); err != nil {
				return err
			}
			messages = append(messages, &inbox.Message{
				ID:        binary.BigEndian.Uint64(k),
				PublicKey: rec.PublicKey,
				CreatedAt: time.Unix(rec.CreatedAt, 0),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (d *boltInbox) PurgeMessages(address string) error {
	addr := normalize(address)
	return d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(inboxesBucket)).Bucket([]byte(addr))
		if bkt == nil {
			return nil
		}
		if bkt.Bucket([]byte(messagesBucket)) != nil {
			if err := bkt.DeleteBucket([]byte(messagesBucket)); err != nil {
				return err
			}
		}
		_, err := bkt.CreateBucket([]byte(messagesBucket))
		return err
	})
}

func (d *boltInbox) DeleteInbox(address string) error {
	addr := normalize(address)
	return d.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket([]byte(inboxesBucket)).DeleteBucket([]byte(addr))
		if err == bolt.ErrBucketNotFound {
			return inbox.ErrNoSuchInbox
		}
		return err
	})
}

func (d *boltInbox) Close() {
	d.db.Sync()
	d.db.Close()
}

// New creates (or loads) an inbox store with the given file name f.
func New(f string, log *logging.Logger) (inbox.Store, error) {
	d := new(boltInbox)
	d.log = log

	var err error
	d.db, err = bolt.Open(f, 0600, nil)
	if err != nil {
		return nil, err
	}

	if err = d.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(inboxesBucket)); err != nil {
			return err
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			// Loaded as opposed to created.
			if len(b) != 1 || b[0] != inboxStorageVersion {
				return fmt.Errorf("boltinbox: incompatible version: %d", uint(b[0]))
			}
			return nil
		}

		return bkt.Put([]byte(versionKey), []byte{inboxStorageVersion})
	}); err != nil {
		d.db.Close()
		return nil, err
	}

	return d, nil
}
