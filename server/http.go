// http.go - Relay HTTP boundary.
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

package server

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/trystd/trystd/identity"
	"github.com/trystd/trystd/inbox"
	"github.com/trystd/trystd/internal/instrument"
)

// Authentication headers: the challenge string and a recoverable signature
// over it.
const (
	messageHeader   = "X-Message"
	signatureHeader = "X-Signature"
)

type errorResponse struct {
	Error string `json:"error"`
}

type challengeResponse struct {
	Message    string `json:"message"`
	ValidUntil int64  `json:"validUntil"`
}

type inboxResponse struct {
	Address   string `json:"address"`
	Pubkey    string `json:"pubkey"`
	CreatedAt int64  `json:"createdAt"`
}

type createInboxRequest struct {
	Pubkey string `json:"pubkey"`
}

type createInboxResponse struct {
	Success bool          `json:"success"`
	Address string        `json:"address"`
	Inbox   inboxResponse `json:"inbox"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type messageResponse struct {
	Pubkey    string `json:"pubkey"`
	CreatedAt int64  `json:"createdAt"`
}

type messagesResponse struct {
	Messages []messageResponse `json:"messages"`
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /otp", s.onChallenge)
	mux.HandleFunc("POST /inbox", s.onCreateInbox)
	mux.HandleFunc("GET /inbox/{address}", s.onGetInbox)
	mux.HandleFunc("POST /inbox/{address}", s.onPostKey)
	mux.HandleFunc("GET /inbox/{address}/messages", s.onListMessages)
	mux.HandleFunc("DELETE /inbox/{address}/messages", s.onPurgeMessages)
	mux.HandleFunc("GET /socket/{key}", s.onSocket)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, &errorResponse{Error: msg})
}

// authenticate verifies the challenge/signature headers and returns the
// recovered address in normalized form.  It rejects before revealing
// whether the target resource exists.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	msg := r.Header.Get(messageHeader)
	sigHex := r.Header.Get(signatureHeader)
	if msg == "" || sigHex == "" {
		s.unauthorized(w, "missing authentication headers")
		return "", false
	}
	if !s.clock.IsValid(msg) {
		s.unauthorized(w, "expired or invalid challenge")
		return "", false
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sigHex), "0x"))
	if err != nil {
		s.unauthorized(w, "malformed signature")
		return "", false
	}
	addr, err := identity.RecoverAddress(msg, sig)
	if err != nil {
		s.unauthorized(w, "invalid signature")
		return "", false
	}
	return addr.Hex(), true
}

func (s *Server) unauthorized(w http.ResponseWriter, msg string) {
	instrument.AuthFailure()
	writeError(w, http.StatusUnauthorized, msg)
}

func (s *Server) onChallenge(w http.ResponseWriter, r *http.Request) {
	msg, validUntil := s.clock.Issue()
	writeJSON(w, http.StatusOK, &challengeResponse{
		Message:    msg,
		ValidUntil: validUntil.UnixMilli(),
	})
}

func (s *Server) onCreateInbox(w http.ResponseWriter, r *http.Request) {
	signer, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req createInboxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	pubkey, err := identity.ParsePublicKeyHex(req.Pubkey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid public key")
		return
	}
	addr, err := identity.PublicKeyToAddress(pubkey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid public key")
		return
	}

	// The signature must recover to the address derived from the submitted
	// key, otherwise anyone could register an inbox for a key they do not
	// hold.
	if signer != addr.Hex() {
		s.unauthorized(w, "signature does not match public key")
		return
	}

	created, err := s.store.CreateInbox(addr.Hex(), pubkey)
	if err == inbox.ErrInboxExists {
		writeError(w, http.StatusConflict, "address already registered")
		return
	} else if err != nil {
		s.log.Errorf("create inbox %s: %v", addr.Hex(), err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	instrument.InboxCreated()
	s.log.Debugf("inbox created for %s", created.Address)
	writeJSON(w, http.StatusCreated, &createInboxResponse{
		Success: true,
		Address: created.Address,
		Inbox: inboxResponse{
			Address:   created.Address,
			Pubkey:    "0x" + hex.EncodeToString(created.PublicKey),
			CreatedAt: created.CreatedAt.UnixMilli(),
		},
	})
}

func (s *Server) onGetInbox(w http.ResponseWriter, r *http.Request) {
	addr, err := identity.NormalizeAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	ib, err := s.store.GetInbox(addr)
	if err == inbox.ErrNoSuchInbox {
		writeError(w, http.StatusNotFound, "no such inbox")
		return
	} else if err != nil {
		s.log.Errorf("get inbox %s: %v", addr, err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	writeJSON(w, http.StatusOK, &inboxResponse{
		Address:   ib.Address,
		Pubkey:    "0x" + hex.EncodeToString(ib.PublicKey),
		CreatedAt: ib.CreatedAt.UnixMilli(),
	})
}

func (s *Server) onPostKey(w http.ResponseWriter, r *http.Request) {
	addr, err := identity.NormalizeAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	var req createInboxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	pubkey, err := identity.ParsePublicKeyHex(req.Pubkey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid public key")
		return
	}

	// Posting is deliberately open to anyone who knows the address; only
	// existence of the target inbox is checked.
	if _, err = s.store.GetInbox(addr); err == inbox.ErrNoSuchInbox {
		writeError(w, http.StatusNotFound, "no such inbox")
		return
	} else if err != nil {
		s.log.Errorf("get inbox %s: %v", addr, err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	if _, err = s.store.AppendMessage(addr, pubkey); err != nil {
		s.log.Errorf("append to inbox %s: %v", addr, err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	instrument.MessagePosted()
	writeJSON(w, http.StatusOK, &successResponse{Success: true})
}

func (s *Server) onListMessages(w http.ResponseWriter, r *http.Request) {
	signer, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	addr, err := identity.NormalizeAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	if signer != addr {
		s.unauthorized(w, "not the inbox owner")
		return
	}
	if _, err = s.store.GetInbox(addr); err == inbox.ErrNoSuchInbox {
		writeError(w, http.StatusNotFound, "no such inbox")
		return
	} else if err != nil {
		s.log.Errorf("get inbox %s: %v", addr, err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	msgs, err := s.store.Messages(addr)
	if err != nil {
		s.log.Errorf("list inbox %s: %v", addr, err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	resp := &messagesResponse{Messages: make([]messageResponse, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageResponse{
			Pubkey:    "0x" + hex.EncodeToString(m.PublicKey),
			CreatedAt: m.CreatedAt.UnixMilli(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) onPurgeMessages(w http.ResponseWriter, r *http.Request) {
	signer, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	addr, err := identity.NormalizeAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	if signer != addr {
		s.unauthorized(w, "not the inbox owner")
		return
	}
	if _, err = s.store.GetInbox(addr); err == inbox.ErrNoSuchInbox {
		writeError(w, http.StatusNotFound, "no such inbox")
		return
	} else if err != nil {
		s.log.Errorf("get inbox %s: %v", addr, err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	if err = s.store.PurgeMessages(addr); err != nil {
		s.log.Errorf("purge inbox %s: %v", addr, err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	writeJSON(w, http.StatusOK, &successResponse{Success: true})
}
