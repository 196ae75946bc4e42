package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/agleyzer/vidtrim/internal/export"
	"github.com/agleyzer/vidtrim/internal/navigation"
	"github.com/agleyzer/vidtrim/internal/parser"
	"github.com/agleyzer/vidtrim/internal/playlist"
	"github.com/agleyzer/vidtrim/internal/session"
)

type createRequest struct {
	Source   string  `json:"source"`
	Duration float64 `json:"duration"`
}

type splitRequest struct {
	// Time defaults to the playhead
	Time *float64 `json:"time"`
}

type indexRequest struct {
	Index *int `json:"index"`
}

type timeRequest struct {
	Time float64 `json:"time"`
}

type stepRequest struct {
	Direction string  `json:"direction"`
	Amount    float64 `json:"amount"`
	Coarse    bool    `json:"coarse"`
}

type editResponse struct {
	Applied bool         `json:"applied"`
	Session session.View `json:"session"`
}

type playbackResponse struct {
	Position float64 `json:"position"`
	Playing  bool    `json:"playing"`
	Stop     bool    `json:"stop,omitempty"`
}

type planResponse struct {
	Plan              *export.Plan `json:"plan"`
	Steps             int          `json:"steps"`
	NeedsConfirmation bool         `json:"needs_confirmation"`
	Summary           string       `json:"summary"`
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return sess, true
}

// edit submits cmd and replies with the resulting session.
func (s *Server) edit(w http.ResponseWriter, r *http.Request, cmd session.Command) {
	res, err := s.editor.Submit(r.Context(), cmd)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	sess, err := s.sessions.Get(cmd.SessionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, editResponse{Applied: res.Applied, Session: sess.View()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	views := []session.View{}
	for _, id := range s.sessions.IDs() {
		sess, err := s.sessions.Get(id)
		if err != nil {
			// Removed concurrently
			continue
		}
		views = append(views, sess.View())
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	media := &parser.Media{Source: req.Source, Duration: req.Duration}
	if req.Duration <= 0 || parser.IsPlaylistSource(req.Source) {
		probed, err := s.probe(r.Context(), req.Source)
		if err != nil {
			s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		media = probed
	}

	id := session.NewID()
	if _, err := s.editor.Submit(r.Context(), session.Command{
		Op:        session.OpLoad,
		SessionID: id,
		Source:    media.Source,
		Duration:  media.Duration,
	}); err != nil {
		s.fail(w, r, err)
		return
	}

	sess, err := s.sessions.Get(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sess.SetMedia(media)

	s.logger.Info("session loaded", "session", id, "source", media.Source, "duration", media.Duration, "playlist", media.IsPlaylist)
	writeJSON(w, http.StatusCreated, sess.View())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if _, err := s.editor.Submit(r.Context(), session.Command{
		Op:        session.OpRemove,
		SessionID: chi.URLParam(r, "id"),
	}); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req splitRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	at := sess.Position()
	if req.Time != nil {
		at = *req.Time
	}

	s.edit(w, r, session.Command{Op: session.OpSplit, SessionID: sess.ID(), At: at})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	index := session.NoSelection
	if req.Index != nil {
		if *req.Index < 0 {
			writeError(w, http.StatusBadRequest, "index must not be negative")
			return
		}
		index = *req.Index
	}

	s.edit(w, r, session.Command{Op: session.OpToggle, SessionID: chi.URLParam(r, "id"), Index: index})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Index == nil {
		writeError(w, http.StatusBadRequest, "index is required")
		return
	}

	s.edit(w, r, session.Command{Op: session.OpSelect, SessionID: chi.URLParam(r, "id"), Index: *req.Index})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, session.Command{Op: session.OpUndo, SessionID: chi.URLParam(r, "id")})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.edit(w, r, session.Command{Op: session.OpReset, SessionID: chi.URLParam(r, "id")})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req timeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	pos := sess.Seek(req.Time)
	writeJSON(w, http.StatusOK, playbackResponse{Position: pos, Playing: sess.Playing()})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req stepRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	amount := req.Amount
	switch {
	case req.Coarse:
		amount = navigation.CoarseStep
	case amount <= 0:
		amount = navigation.FineStep
	}

	var pos float64
	switch req.Direction {
	case "", "forward":
		pos = sess.StepForward(amount)
	case "backward":
		pos = sess.StepBackward(amount)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown direction %q", req.Direction))
		return
	}

	writeJSON(w, http.StatusOK, playbackResponse{Position: pos, Playing: sess.Playing()})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req timeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	pos, stop := sess.PositionChanged(req.Time)
	writeJSON(w, http.StatusOK, playbackResponse{Position: pos, Playing: sess.Playing(), Stop: stop})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	pos, playing := sess.Play()
	writeJSON(w, http.StatusOK, playbackResponse{Position: pos, Playing: playing})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	sess.Pause()
	writeJSON(w, http.StatusOK, playbackResponse{Position: sess.Position()})
}

// exportParams merges query overrides into the configured defaults.
func (s *Server) exportParams(r *http.Request) (export.Params, error) {
	params := s.params

	for name, dst := range map[string]*int{"width": &params.Width, "fps": &params.FPS} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return params, fmt.Errorf("%w: %s must be a positive integer", errBadRequest, name)
		}
		*dst = v
	}

	return params, nil
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	params, err := s.exportParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	plan, err := sess.PlanExport(params)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, planResponse{
		Plan:              plan,
		Steps:             plan.Steps(),
		NeedsConfirmation: plan.NeedsConfirmation(),
		Summary:           plan.String(),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	params, err := s.exportParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	plan, err := sess.PlanExport(params)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// Checked again by Export against the plan it actually runs.
	params.Confirmed, _ = strconv.ParseBool(r.URL.Query().Get("confirm"))
	if plan.NeedsConfirmation() && !params.Confirmed {
		s.fail(w, r, fmt.Errorf("%w; retry with confirm=true", export.ErrNotConfirmed))
		return
	}

	media := sess.Media()
	if media == nil {
		s.fail(w, r, errMediaUnavailable)
		return
	}

	input, err := s.readMedia(r.Context(), media)
	if err != nil {
		s.fail(w, r, fmt.Errorf("read source: %w", err))
		return
	}
	params.Input = "input" + media.Ext()

	enc, closer, err := s.newEncoder()
	if err != nil {
		s.fail(w, r, fmt.Errorf("create encoder: %w", err))
		return
	}
	defer closer.Close()

	out, err := sess.Export(r.Context(), enc, input, params, nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.Header().Set("Content-Disposition", `attachment; filename="trimmed.gif"`)
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.ExportStatus())
}

// handlePreview serves an HLS playlist of the kept chunks
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	preview, err := playlist.New(sess.Media(), sess.Segments())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	content, err := preview.Generate()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// Set headers for HLS
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content))
}
