package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/n3c4s/alohomora/internal/app"
	cr "github.com/n3c4s/alohomora/internal/crypto"
	"github.com/n3c4s/alohomora/internal/manager"
	"github.com/n3c4s/alohomora/internal/p2p"
	"github.com/n3c4s/alohomora/internal/smartsync"
	"github.com/n3c4s/alohomora/internal/vault"
)

// maxBody bounds request bodies; entries and offers are small.
const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, errorResp{Error: "bad json"})
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSONStatus(w, http.StatusMethodNotAllowed, errorResp{Error: "method not allowed"})
}

func tooMany(w http.ResponseWriter, retryAfterSeconds int) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeJSONStatus(w, http.StatusTooManyRequests, errorResp{Error: "too many requests"})
}

var errorStatus = []struct {
	err  error
	code int
}{
	{vault.ErrNotUnlocked, http.StatusLocked},
	{vault.ErrWrongPassword, http.StatusUnauthorized},
	{vault.ErrNotInitialized, http.StatusConflict},
	{vault.ErrAlreadyInitialized, http.StatusConflict},
	{vault.ErrEntryNotFound, http.StatusNotFound},
	{vault.ErrNoTOTP, http.StatusNotFound},
	{vault.ErrInvalidEntry, http.StatusBadRequest},
	{cr.ErrEmptyCharset, http.StatusBadRequest},
	{manager.ErrDeviceNotFound, http.StatusNotFound},
	{manager.ErrIncomingDisabled, http.StatusForbidden},
	{manager.ErrNoPeers, http.StatusServiceUnavailable},
	{manager.ErrNoConnection, http.StatusConflict},
	{manager.ErrUntrusted, http.StatusForbidden},
	{p2p.ErrConnectionTimeout, http.StatusGatewayTimeout},
	{smartsync.ErrConflictNotFound, http.StatusNotFound},
}

// writeError maps err to a status code and a user-facing message.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			code = e.code
			break
		}
	}
	if code == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	writeJSONStatus(w, code, errorResp{Error: app.UserMessage(err)})
}
