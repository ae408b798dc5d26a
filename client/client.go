// client.go - Relay HTTP client.
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

// Package client is a consumer of the relay's HTTP and WebSocket contract:
// inbox registration and key exchange over HTTP, and reconnecting room
// sessions over WebSocket.  The relay forwards room frames verbatim; any
// end-to-end encryption is layered above this package using the shared
// secret both peers derive.
package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/trystd/trystd/core/log"
	"github.com/trystd/trystd/identity"
)

const (
	messageHeader   = "X-Message"
	signatureHeader = "X-Signature"
)

// Message is a public key found in the caller's inbox.
type Message struct {
	PublicKey []byte
	CreatedAt time.Time
}

// Client talks to one relay endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	log        *logging.Logger
}

// New returns a Client for the relay at endpoint, e.g. "http://host:port".
func New(endpoint string, logBackend *log.Backend) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logBackend.GetLogger("client"),
	}
}

type challengeResponse struct {
	Message    string `json:"message"`
	ValidUntil int64  `json:"validUntil"`
}

type pubkeyBody struct {
	Pubkey string `json:"pubkey"`
}

type inboxResponse struct {
	Address string `json:"address"`
	Pubkey  string `json:"pubkey"`
}

type messagesResponse struct {
	Messages []struct {
		Pubkey    string `json:"pubkey"`
		CreatedAt int64  `json:"createdAt"`
	} `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, headers http.Header, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e errorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("client: %s %s: %d: %s", method, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("client: %s %s: %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Challenge fetches a fresh authentication challenge.
func (c *Client) Challenge(ctx context.Context) (string, time.Time, error) {
	var resp challengeResponse
	if err := c.do(ctx, http.MethodGet, "/otp", nil, nil, &resp); err != nil {
		return "", time.Time{}, err
	}
	return resp.Message, time.UnixMilli(resp.ValidUntil), nil
}

// signedHeaders fetches a challenge and signs it with priv.
func (c *Client) signedHeaders(ctx context.Context, priv *ecdsa.PrivateKey) (http.Header, error) {
	msg, _, err := c.Challenge(ctx)
	if err != nil {
		return nil, err
	}
	sig, err := identity.Sign(msg, priv)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set(messageHeader, msg)
	h.Set(signatureHeader, "0x"+hex.EncodeToString(sig))
	return h, nil
}

// CreateInbox registers an inbox for priv's public key and returns the
// inbox address.
func (c *Client) CreateInbox(ctx context.Context, priv *ecdsa.PrivateKey) (string, error) {
	headers, err := c.signedHeaders(ctx, priv)
	if err != nil {
		return "", err
	}
	pub := identity.CompressPublicKey(priv)
	var resp struct {
		Success bool   `json:"success"`
		Address string `json:"address"`
	}
	body := &pubkeyBody{Pubkey: "0x" + hex.EncodeToString(pub)}
	if err := c.do(ctx, http.MethodPost, "/inbox", headers, body, &resp); err != nil {
		return "", err
	}
	return resp.Address, nil
}

// InboxKey fetches the public key registered for address.
func (c *Client) InboxKey(ctx context.Context, address string) ([]byte, error) {
	var resp inboxResponse
	if err := c.do(ctx, http.MethodGet, "/inbox/"+address, nil, nil, &resp); err != nil {
		return nil, err
	}
	return hex.DecodeString(strings.TrimPrefix(resp.Pubkey, "0x"))
}

// PostKey posts a public key into the inbox at address.
func (c *Client) PostKey(ctx context.Context, address string, pub []byte) error {
	body := &pubkeyBody{Pubkey: "0x" + hex.EncodeToString(pub)}
	return c.do(ctx, http.MethodPost, "/inbox/"+address, nil, body, nil)
}

// Messages lists the keys posted to priv's own inbox, newest first.
func (c *Client) Messages(ctx context.Context, priv *ecdsa.PrivateKey) ([]Message, error) {
	headers, err := c.signedHeaders(ctx, priv)
	if err != nil {
		return nil, err
	}
	address := identity.AddressOf(priv).Hex()
	var resp messagesResponse
	if err := c.do(ctx, http.MethodGet, "/inbox/"+address+"/messages", headers, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		raw, err := hex.DecodeString(strings.TrimPrefix(m.Pubkey, "0x"))
		if err != nil {
			return nil, err
		}
		out = append(out, Message{PublicKey: raw, CreatedAt: time.UnixMilli(m.CreatedAt)})
	}
	return out, nil
}

// PurgeMessages clears priv's own inbox.
func (c *Client) PurgeMessages(ctx context.Context, priv *ecdsa.PrivateKey) error {
	headers, err := c.signedHeaders(ctx, priv)
	if err != nil {
		return err
	}
	address := identity.AddressOf(priv).Hex()
	return c.do(ctx, http.MethodDelete, "/inbox/"+address+"/messages", headers, nil, nil)
}
