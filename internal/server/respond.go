package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/agleyzer/vidtrim/internal/cluster"
	"github.com/agleyzer/vidtrim/internal/export"
	"github.com/agleyzer/vidtrim/internal/playlist"
	"github.com/agleyzer/vidtrim/internal/segment"
	"github.com/agleyzer/vidtrim/internal/session"
)

var (
	errBadRequest       = errors.New("bad request")
	errMediaUnavailable = errors.New("source media is not loaded on this node")
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, segment.ErrInvalidDuration),
		errors.Is(err, segment.ErrIndexOutOfRange),
		errors.Is(err, playlist.ErrNotPlaylist):
		return http.StatusBadRequest
	case errors.Is(err, export.ErrNoContent),
		errors.Is(err, playlist.ErrNoChunks):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrExportInProgress):
		return http.StatusConflict
	case errors.Is(err, export.ErrNotConfirmed):
		return http.StatusPreconditionFailed
	case errors.Is(err, errMediaUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, cluster.ErrNotLeader):
		return http.StatusMisdirectedRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
}
