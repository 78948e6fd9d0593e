// Package server exposes the chat service over HTTP: a server-sent-events
// query stream, a WebSocket variant, session issuance, file upload/download,
// and tool-host proxies.
//
// DESIGN: The admission gate runs here, before a turn starts. The prompt's
// estimated token cost is reserved against the sliding window in one atomic
// step; a rejected request gets a single rate_limit frame and a clean close,
// and the model is never contacted.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shayan1083/rbchat-backend/internal/chat"
	"github.com/shayan1083/rbchat-backend/internal/files"
	"github.com/shayan1083/rbchat-backend/internal/ratelimit"
	"github.com/shayan1083/rbchat-backend/internal/tokens"
)

// TurnStreamer executes one conversational turn, pushing fragments to send.
type TurnStreamer interface {
	Stream(ctx context.Context, req chat.TurnRequest, send func(fragment string) error)
}

// DatabaseLister lists the databases the tool host can query.
type DatabaseLister interface {
	DatabaseNames(ctx context.Context) ([]string, error)
}

// Server is the HTTP surface.
type Server struct {
	turns     TurnStreamer
	window    *ratelimit.UsageWindow
	estimator *tokens.Estimator
	files     *files.Store
	databases DatabaseLister
}

// New assembles the server.
func New(turns TurnStreamer, window *ratelimit.UsageWindow, estimator *tokens.Estimator, fileStore *files.Store, databases DatabaseLister) *Server {
	return &Server{
		turns:     turns,
		window:    window,
		estimator: estimator,
		files:     fileStore,
		databases: databases,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /query", s.handleQuery)
	mux.HandleFunc("GET /ws/query", s.handleWSQuery)
	mux.HandleFunc("GET /session", s.handleSession)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /download/{id}", s.handleDownload)
	mux.HandleFunc("GET /database_names", s.handleDatabaseNames)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// turnParams carries the per-turn inputs shared by the SSE and WS handlers.
type turnParams struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`
	Database  string `json:"db_name"`
}

// admit reserves the prompt's estimated token cost. False means the caller
// must emit a rate-limit frame and stop.
func (s *Server) admit(prompt string) bool {
	estimate := s.estimator.Count(prompt)
	if s.window.Reserve(estimate) {
		return true
	}
	log.Warn().Int("estimated_tokens", estimate).Int("limit", s.window.Limit()).
		Msg("turn rejected by token window")
	return false
}

// buildTurn resolves the session's latest upload into file context.
func (s *Server) buildTurn(p turnParams) chat.TurnRequest {
	req := chat.TurnRequest{
		Prompt:    p.Prompt,
		SessionID: p.SessionID,
		Database:  p.Database,
	}
	sessionID := p.SessionID
	if sessionID == "" {
		return req
	}
	rec, err := s.files.Latest(sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("upload lookup failed, continuing without file context")
		return req
	}
	if rec != nil {
		req.File = &chat.FileContext{Name: rec.Filename, Content: string(rec.Content)}
	}
	return req
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	p := turnParams{
		Prompt:    r.URL.Query().Get("prompt"),
		SessionID: r.URL.Query().Get("session_id"),
		Database:  r.URL.Query().Get("db_name"),
	}
	if strings.TrimSpace(p.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if !s.admit(p.Prompt) {
		writeSSE(w, fl, "rate_limit", chat.RateLimitFragment)
		writeSSE(w, fl, "done", "[DONE]")
		return
	}

	s.turns.Stream(r.Context(), s.buildTurn(p), func(fragment string) error {
		return writeSSE(w, fl, "", fragment)
	})
	_ = writeSSE(w, fl, "done", "[DONE]")
}

// writeSSE emits one event. Multi-line payloads become multiple data lines in
// the same frame, per the SSE wire format.
func writeSSE(w io.Writer, fl http.Flusher, event, payload string) error {
	var b strings.Builder
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(payload, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}
	fl.Flush()
	return nil
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"session_id": uuid.NewString()})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Cap the request body a little above the content ceiling so the store's
	// own size check produces the client-facing error.
	r.Body = http.MaxBytesReader(w, r.Body, s.files.MaxSize()+64*1024)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer func() { _ = file.Close() }()

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading upload failed")
		return
	}

	fileType := header.Header.Get("Content-Type")
	if fileType == "" {
		fileType = "application/octet-stream"
	}

	id, err := s.files.Save(sessionID, header.Filename, fileType, content)
	if err != nil {
		var tooLarge *files.ErrTooLarge
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, tooLarge.Error())
			return
		}
		log.Error().Err(err).Msg("upload store failed")
		writeError(w, http.StatusInternalServerError, "storing upload failed")
		return
	}

	log.Info().Uint64("file_id", id).Str("session_id", sessionID).
		Str("filename", header.Filename).Int("size", len(content)).Msg("file uploaded")
	writeJSON(w, http.StatusOK, map[string]any{
		"file_id":  id,
		"filename": header.Filename,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file id")
		return
	}

	rec, err := s.files.Get(id)
	if err != nil {
		log.Error().Err(err).Uint64("file_id", id).Msg("file lookup failed")
		writeError(w, http.StatusInternalServerError, "file lookup failed")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	w.Header().Set("Content-Type", rec.FileType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+rec.Filename+`"`)
	_, _ = w.Write(rec.Content)
}

func (s *Server) handleDatabaseNames(w http.ResponseWriter, r *http.Request) {
	names, err := s.databases.DatabaseNames(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("database listing failed")
		writeError(w, http.StatusBadGateway, "tool host unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"databases": names})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.files.Ping(); err != nil {
		log.Error().Err(err).Msg("store probe failed")
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response encoding failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
