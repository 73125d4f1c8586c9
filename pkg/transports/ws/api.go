package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/harunnryd/juru/pkg/errorsx"
	"github.com/harunnryd/juru/pkg/export"
	"github.com/harunnryd/juru/pkg/pipeline"
	"github.com/harunnryd/juru/pkg/processors"
	"github.com/harunnryd/juru/pkg/recognition"
	"github.com/harunnryd/juru/pkg/store/sqlite"
)

func (s *Server) routes(mux *http.ServeMux) {
	p := strings.TrimRight(s.cfg.APIPrefix, "/")
	mux.HandleFunc("GET "+p+"/sessions", s.handleListLive)
	mux.HandleFunc("POST "+p+"/sessions", s.handleCreate)
	mux.HandleFunc("GET "+p+"/sessions/{id}", s.withSession(s.handleStatus))
	mux.HandleFunc("DELETE "+p+"/sessions/{id}", s.handleDelete)
	mux.HandleFunc("POST "+p+"/sessions/{id}/{action}", s.withSession(s.handleAction))
	mux.HandleFunc("GET "+p+"/sessions/{id}/context", s.withSession(s.handleGetContext))
	mux.HandleFunc("PUT "+p+"/sessions/{id}/context", s.withSession(s.handleSetContext))
	mux.HandleFunc("PUT "+p+"/sessions/{id}/source", s.withSession(s.handleEditSource))
	mux.HandleFunc("PUT "+p+"/sessions/{id}/translation", s.withSession(s.handleEditTranslation))
	mux.HandleFunc("POST "+p+"/sessions/{id}/audio", s.withSession(s.handleAudio))
	mux.HandleFunc("GET "+p+"/sessions/{id}/snapshot", s.withSession(s.handleSnapshot))
	mux.HandleFunc("PUT "+p+"/sessions/{id}/snapshot", s.withSession(s.handleLoad))
	mux.HandleFunc("GET "+p+"/sessions/{id}/export", s.withSession(s.handleExport))
	mux.HandleFunc("GET "+p+"/saved", s.handleListSaved)
	mux.HandleFunc("POST "+p+"/saved/{id}/open", s.handleOpenSaved)
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *pipeline.Session)

func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.registry.Get(r.PathValue("id"))
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h(w, r, sess)
	}
}

func (s *Server) handleListLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.registry.Keys()})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		writeError(w, http.StatusServiceUnavailable, "server is draining")
		return
	}
	var body struct {
		ID      string `json:"id"`
		Context string `json:"context"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	if body.ID == "" {
		body.ID = uuid.NewString()
	}
	sess, created, err := s.registry.GetOrCreate(s.ctx, body.ID, pipeline.OriginBrowser)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if body.Context != "" {
		sess.SetContext(body.Context)
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, map[string]any{"id": sess.ID, "created": created})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, sess *pipeline.Session) {
	st, err := sess.Status(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.registry.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, sess *pipeline.Session) {
	ctx := r.Context()
	var err error
	switch action := r.PathValue("action"); action {
	case "start":
		// The session outlives the request.
		err = sess.Start(s.ctx)
	case "pause":
		err = sess.Pause(ctx)
	case "resume":
		err = sess.Resume(ctx)
	case "stop":
		err = sess.Stop(ctx)
	case "clear":
		err = sess.Clear(ctx)
	case "optimize":
		err = sess.Optimize(ctx)
	case "save":
		s.handleSave(w, r, sess)
		return
	default:
		writeError(w, http.StatusNotFound, "unknown action "+action)
		return
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.handleStatus(w, r, sess)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request, sess *pipeline.Session) {
	writeJSON(w, http.StatusOK, map[string]string{"context": sess.Context()})
}

func (s *Server) handleSetContext(w http.ResponseWriter, r *http.Request, sess *pipeline.Session) {
	var body struct {
		Context string `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	sess.SetContext(body.Context)
	writeJSON(w, http.StatusOK, map[string]string{"context": sess.Context()})
}

func (s *Server) handleEditSource(w http.ResponseWriter, r *http.Request, sess *pipeline.Session) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := sess.Edit(r.Context(), body.Text); err != nil {
		writeFailure(w, err)
		return
	}
	s.handleStatus(w, r, sess)
}

func (s *Server) handleEditTranslation(w http.ResponseWriter, r *http.Request, sess *pipeline.Session) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := sess.EditTranslation(r.Context(), body.Text); err != nil {
		writeFailure(w, err)
		return
	}
	s.handleStatus(w, r, sess)
}

// handleAudio accepts an audio file as the raw request body. The file name
// comes from the "name" query parameter.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request, sess *pipeline.Session) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload"
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty upload")
		return
	}
	if err := sess.TranscribeFile(r.Context(), name, data); err != nil {
		writeFailure(w, err)
		return
	}
	s.handleStatus(w, r, sess)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request, sess *pipeline.Session) {
	snap, err := sess.Snapshot(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request, sess *pipeline.Session) {
	var snap pipeline.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid snapshot")
		return
	}
	if err := sess.Load(r.Context(), snap); err != nil {
		writeFailure(w, err)
		return
	}
	s.handleStatus(w, r, sess)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, sess *pipeline.Session) {
	doc, err := sess.Document(r.Context(), r.URL.Query().Get("title"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	md, err := export.RenderMarkdown(doc)
	if err != nil {
		writeFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+sess.ID+`.md"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, md)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request, sess *pipeline.Session) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "no session store configured")
		return
	}
	rec, err := sqlite.RecordOf(r.Context(), sess, r.URL.Query().Get("title"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	rec, err = s.store.Save(r.Context(), rec)
	if err != nil {
		s.logger.Warn("session_save_failed", slog.String("stream_id", sess.ID), slog.String("error", err.Error()))
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": rec.ID, "updated_at": rec.UpdatedAt})
}

func (s *Server) handleListSaved(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "no session store configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.store.List(r.Context(), limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	type item struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		SourceLen int    `json:"source_len"`
		CreatedAt string `json:"created_at"`
		UpdatedAt string `json:"updated_at"`
	}
	items := make([]item, 0, len(list))
	for _, sum := range list {
		items = append(items, item{
			ID:        sum.ID,
			Title:     sum.Title,
			SourceLen: sum.SourceLen,
			CreatedAt: sum.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			UpdatedAt: sum.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

// handleOpenSaved loads a saved snapshot into the live session with the
// same ID, creating it if needed.
func (s *Server) handleOpenSaved(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "no session store configured")
		return
	}
	rec, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	sess, _, err := s.registry.GetOrCreate(s.ctx, rec.ID, pipeline.OriginBrowser)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := sess.Load(r.Context(), rec.Snapshot); err != nil {
		writeFailure(w, err)
		return
	}
	s.handleStatus(w, r, sess)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeFailure maps session and store errors onto HTTP status codes.
func writeFailure(w http.ResponseWriter, err error) {
	var invalid *recognition.InvalidTransitionError
	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &invalid), errors.Is(err, processors.ErrNothingToTranslate),
		errors.Is(err, processors.ErrSourceChanged):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrClosed), errors.Is(err, pipeline.ErrDraining):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, pipeline.ErrNoTranscriber), errors.Is(err, pipeline.ErrNoRelay):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errorsx.HasReason(err, errorsx.ReasonAudioInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errorsx.HasReason(err, errorsx.ReasonRemoteRateLimited) || errorsx.Classify(err) == errorsx.ReasonRemoteRateLimited:
		writeError(w, http.StatusTooManyRequests, processors.BusyMessage)
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
