// identity.go - Recoverable signature identities.
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

// Package identity implements the relay's trust anchor: secp256k1 addresses
// derived from public keys, and recoverable ECDSA signatures over
// personal-message hashes.  Possession of a private key is proved by
// producing a signature that recovers to the address independently derived
// from the claimed public key; the relay never stores credentials.
package identity

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// SignatureSize is the size of a recoverable ECDSA signature in bytes.
	SignatureSize = 65

	// AddressSize is the size of an address in bytes.
	AddressSize = 20

	// RoomKeySize is the size of a derived room key in bytes.
	RoomKeySize = 32
)

var (
	// ErrInvalidSignature is returned when a signature is malformed or does
	// not recover to a valid public key.
	ErrInvalidSignature = errors.New("identity: invalid signature")

	// ErrInvalidPublicKey is returned when a public key is malformed or not
	// a point on the secp256k1 curve.
	ErrInvalidPublicKey = errors.New("identity: invalid public key")

	// ErrInvalidAddress is returned when an address string is malformed.
	ErrInvalidAddress = errors.New("identity: invalid address")
)

// Address is a 20 byte account address, the keccak-256 tail of the
// uncompressed public key.
type Address [AddressSize]byte

// Hex returns the 0x-prefixed lower-case hex encoding of the address, the
// normalized form used everywhere addresses are compared or stored.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// String returns the normalized hex form.
func (a Address) String() string {
	return a.Hex()
}

// NormalizeAddress lower-cases and validates an address string, returning
// the canonical 0x-prefixed form.
func NormalizeAddress(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	if len(s) != AddressSize*2 {
		return "", ErrInvalidAddress
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", ErrInvalidAddress
	}
	return "0x" + s, nil
}

// personalHash hashes a message with the standard personal-message prefix
// convention, matching what off-the-shelf wallet signing produces.
func personalHash(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}

// RecoverAddress recovers the signer's address from a message and a 65 byte
// recoverable signature.  Both legacy (27/28) and raw (0/1) recovery id
// encodings are accepted.  Malformed input of any kind returns
// ErrInvalidSignature.
func RecoverAddress(message string, sig []byte) (Address, error) {
	if len(sig) != SignatureSize {
		return Address{}, ErrInvalidSignature
	}
	s := make([]byte, SignatureSize)
	copy(s, sig)
	switch {
	case s[64] == 27 || s[64] == 28:
		s[64] -= 27
	case s[64] <= 1:
	default:
		return Address{}, ErrInvalidSignature
	}
	pub, err := crypto.SigToPub(personalHash(message), s)
	if err != nil {
		return Address{}, ErrInvalidSignature
	}
	var a Address
	copy(a[:], crypto.PubkeyToAddress(*pub).Bytes())
	return a, nil
}

// ParsePublicKey parses a compressed (33 byte) or uncompressed (65 byte)
// secp256k1 public key, rejecting points not on the curve.
func ParsePublicKey(raw []byte) (*ecdsa.PublicKey, error) {
	switch len(raw) {
	case 33:
		pub, err := crypto.DecompressPubkey(raw)
		if err != nil {
			return nil, ErrInvalidPublicKey
		}
		return pub, nil
	case 65:
		pub, err := crypto.UnmarshalPubkey(raw)
		if err != nil {
			return nil, ErrInvalidPublicKey
		}
		return pub, nil
	default:
		return nil, ErrInvalidPublicKey
	}
}

// ParsePublicKeyHex parses a hex encoded public key, with or without a 0x
// prefix.
func ParsePublicKeyHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	if _, err := ParsePublicKey(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// PublicKeyToAddress derives the address of a raw compressed or
// uncompressed public key: the last 20 bytes of the keccak-256 hash of the
// uncompressed point's 64 payload bytes.
func PublicKeyToAddress(raw []byte) (Address, error) {
	pub, err := ParsePublicKey(raw)
	if err != nil {
		return Address{}, err
	}
	var a Address
	copy(a[:], crypto.PubkeyToAddress(*pub).Bytes())
	return a, nil
}

// CompressPublicKey returns the 33 byte compressed encoding of priv's
// public key.
func CompressPublicKey(priv *ecdsa.PrivateKey) []byte {
	return crypto.CompressPubkey(&priv.PublicKey)
}

// AddressOf derives the address of a private key's public half.
func AddressOf(priv *ecdsa.PrivateKey) Address {
	var a Address
	copy(a[:], crypto.PubkeyToAddress(priv.PublicKey).Bytes())
	return a
}

// Sign produces a wallet-compatible recoverable signature over the
// personal-message hash of message, with a legacy (27/28) recovery id.
func Sign(message string, priv *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(personalHash(message), priv)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// SharedRoomKey computes the rendezvous room key both peers can derive
// without server help: the keccak-256 hash of the 32 byte X coordinate of
// the ECDH shared point, hex encoded.  SharedRoomKey(a, B) equals
// SharedRoomKey(b, A) for keypairs (a, A) and (b, B).
func SharedRoomKey(priv *ecdsa.PrivateKey, peerPub []byte) (string, error) {
	peer, err := ParsePublicKey(peerPub)
	if err != nil {
		return "", err
	}
	x, _ := crypto.S256().ScalarMult(peer.X, peer.Y, priv.D.Bytes())
	secret := make([]byte, RoomKeySize)
	x.FillBytes(secret)
	return hex.EncodeToString(crypto.Keccak256(secret)), nil
}
