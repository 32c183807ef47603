package server

import (
	"net/http"
	"strings"

	"github.com/n3c4s/alohomora/internal/app"
	"github.com/n3c4s/alohomora/internal/device"
	"github.com/n3c4s/alohomora/internal/smartsync"
)

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, s.app.SyncStatus())
}

func (s *Server) handleSyncConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.app.SyncConfig())
	case http.MethodPut:
		var u app.ConfigUpdate
		if !decodeJSON(w, r, &u) {
			return
		}
		writeJSON(w, s.app.UpdateSyncConfig(r.Context(), u))
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSyncDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	var out []*device.Info
	switch {
	case r.URL.Query().Get("q") != "":
		out = s.app.SearchDevices(r.URL.Query().Get("q"))
	case r.URL.Query().Get("connected") == "true":
		out = s.app.ConnectedDevices()
	default:
		out = s.app.SyncDevices()
	}
	if out == nil {
		out = []*device.Info{}
	}
	writeJSON(w, out)
}

func (s *Server) handleSyncStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	st, err := s.app.SyncStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.StartSync(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, s.app.SyncStatus())
}

func (s *Server) handleSyncStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.app.StopSync(r.Context())
	writeJSON(w, s.app.SyncStatus())
}

func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	results := s.app.SyncNow(r.Context())
	if results == nil {
		results = []smartsync.SyncResult{}
	}
	writeJSON(w, results)
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	out := s.app.Conflicts()
	if out == nil {
		out = []smartsync.Conflict{}
	}
	writeJSON(w, out)
}

// handleConflictByID resolves one conflict: POST {"resolution": "use_remote"}.
func (s *Server) handleConflictByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/sync/conflicts/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	var req resolveReq
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := smartsync.ParseResolution(req.Resolution)
	if err != nil {
		writeJSONStatus(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c, err := s.app.ResolveConflict(r.Context(), id, res)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, c)
}

// handleDevice serves /api/devices/{id} (DELETE) and
// /api/devices/{id}/{trust,connect} (POST).
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	var err error
	switch {
	case action == "" && r.Method == http.MethodDelete:
		err = s.app.RemoveDevice(r.Context(), id)
	case action == "trust" && r.Method == http.MethodPost:
		err = s.app.TrustDevice(r.Context(), id)
	case action == "connect" && r.Method == http.MethodPost:
		err = s.app.ConnectDevice(r.Context(), id)
	case action == "" || action == "trust" || action == "connect":
		methodNotAllowed(w)
		return
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOffer answers a peer's connection offer. It needs no session: the
// manager decides whether incoming connections are accepted.
func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.rlOfferIP.allow(remoteHost(r)) {
		tooMany(w, 10)
		return
	}
	var req OfferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Device == nil || req.Device.ID == "" || req.Offer == "" {
		writeJSONStatus(w, http.StatusBadRequest, errorResp{Error: "device and offer required"})
		return
	}
	remote := device.FromNetwork(req.Device.ID, req.Device.Name, req.Device.Type, req.Device.OS,
		req.Device.OSVersion, req.Device.AppVersion, remoteHost(r), req.Device.Port)
	answer, err := s.app.AcceptOffer(r.Context(), remote, req.Offer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("device_id", remote.ID).Str("name", remote.Name).Msg("offer accepted")
	writeJSON(w, OfferResponse{Answer: answer})
}
