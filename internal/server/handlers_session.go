package server

import (
	"net/http"
	"time"

	"github.com/n3c4s/alohomora/internal/auth"
)

func (s *Server) handleMasterStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ok, err := s.app.IsInitialized(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, masterStatusResp{Initialized: ok, Unlocked: s.app.IsUnlocked()})
}

func (s *Server) handleMasterInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req passwordReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Password == "" {
		writeJSONStatus(w, http.StatusBadRequest, errorResp{Error: "password required"})
		return
	}
	if err := s.app.InitMaster(r.Context(), req.Password); err != nil {
		s.writeError(w, err)
		return
	}
	s.issueToken(w, http.StatusCreated)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.rlUnlockIP.allow(remoteHost(r)) {
		tooMany(w, 60)
		return
	}
	var req passwordReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Password == "" {
		writeJSONStatus(w, http.StatusBadRequest, errorResp{Error: "password required"})
		return
	}
	if err := s.app.Unlock(r.Context(), req.Password); err != nil {
		s.writeError(w, err)
		return
	}
	s.issueToken(w, http.StatusOK)
}

func (s *Server) handleMasterVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.rlUnlockIP.allow(remoteHost(r)) {
		tooMany(w, 60)
		return
	}
	var req passwordReq
	if !decodeJSON(w, r, &req) {
		return
	}
	ok, err := s.app.VerifyMaster(r.Context(), req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"valid": ok})
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.app.Lock(r.Context())
	s.sessions.RevokeAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	entries, err := s.app.AuditLog()
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]auditEntryResp, len(entries))
	for i, e := range entries {
		out[i] = auditEntryResp{At: time.Unix(e.TS, 0).UTC(), Action: e.Action, Subject: e.Subject, Hash: e.Hash}
	}
	writeJSON(w, out)
}

func (s *Server) issueToken(w http.ResponseWriter, code int) {
	sub := s.app.Manager().LocalDevice().ID
	tok, err := s.sessions.Issue(sub)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSONStatus(w, code, auth.TokenResponse{Token: tok.Token, ExpiresAt: tok.ExpiresAt})
}
