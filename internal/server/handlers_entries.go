package server

import (
	"net/http"
	"strings"

	"github.com/n3c4s/alohomora/internal/vault"
)

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := s.app.SearchEntries(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		if entries == nil {
			entries = []vault.Entry{}
		}
		writeJSON(w, entries)

	case http.MethodPost:
		var e vault.Entry
		if !decodeJSON(w, r, &e) {
			return
		}
		out, err := s.app.CreateEntry(r.Context(), e)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, out)

	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleEntryByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/entries/")
	if id, ok := strings.CutSuffix(id, "/totp"); ok && id != "" && !strings.Contains(id, "/") {
		s.handleEntryCode(w, r, id)
		return
	}
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		e, err := s.app.Entry(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, e)

	case http.MethodPut:
		var upd vault.Entry
		if !decodeJSON(w, r, &upd) {
			return
		}
		e, err := s.app.UpdateEntry(r.Context(), id, upd)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, e)

	case http.MethodDelete:
		if err := s.app.DeleteEntry(r.Context(), id); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleEntryCode(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	code, err := s.app.EntryCode(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, code)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req generateReq
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	pw, err := s.app.GeneratePassword(req.options())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"password": pw})
}
