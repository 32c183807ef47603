package server

import "net/http"

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/health", s.handleHealth)

	s.mux.HandleFunc("/api/master/status", s.handleMasterStatus)
	s.mux.HandleFunc("/api/master/init", s.handleMasterInit)
	s.mux.HandleFunc("/api/master/verify", s.handleMasterVerify)
	s.mux.HandleFunc("/api/unlock", s.handleUnlock)
	s.mux.HandleFunc("/api/lock", s.handleLock)
	s.mux.HandleFunc("/api/audit", s.handleAudit)

	s.mux.HandleFunc("/api/entries", s.handleEntries)
	s.mux.HandleFunc("/api/entries/", s.handleEntryByID)
	s.mux.HandleFunc("/api/generate", s.handleGenerate)

	s.mux.HandleFunc("/api/sync/status", s.handleSyncStatus)
	s.mux.HandleFunc("/api/sync/config", s.handleSyncConfig)
	s.mux.HandleFunc("/api/sync/devices", s.handleSyncDevices)
	s.mux.HandleFunc("/api/sync/stats", s.handleSyncStats)
	s.mux.HandleFunc("/api/sync/start", s.handleSyncStart)
	s.mux.HandleFunc("/api/sync/stop", s.handleSyncStop)
	s.mux.HandleFunc("/api/sync/now", s.handleSyncNow)
	s.mux.HandleFunc("/api/sync/conflicts", s.handleConflicts)
	s.mux.HandleFunc("/api/sync/conflicts/", s.handleConflictByID)
	s.mux.HandleFunc("/api/devices/", s.handleDevice)
	s.mux.HandleFunc("/api/p2p/offer", s.handleOffer)

	if s.metrics != nil {
		s.mux.Handle(s.cfg.MetricsPath, s.metrics.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
