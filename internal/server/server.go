// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jeranaias/wolfchat/internal/chat"
	"github.com/jeranaias/wolfchat/internal/commands"
	"github.com/jeranaias/wolfchat/internal/provider"
	"github.com/jeranaias/wolfchat/internal/session"
	"github.com/jeranaias/wolfchat/internal/settings"
	"github.com/jeranaias/wolfchat/internal/storage"
)

// maxRequestBody caps request bodies; chat input is text, nothing should
// come close.
const maxRequestBody = 1 << 20

// Server is the browser-facing HTTP API.
type Server struct {
	controller *chat.Controller
	repo       *session.Repository
	settings   *settings.Service
	registry   *commands.Registry
	logger     *slog.Logger

	httpServer *http.Server
}

// New assembles the server on addr.
func New(addr string, controller *chat.Controller, repo *session.Repository, svc *settings.Service, registry *commands.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		controller: controller,
		repo:       repo,
		settings:   svc,
		registry:   registry,
		logger:     logger,
	}
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s
}

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /v1/chat/send", s.handleChatSend)
	mux.HandleFunc("POST /v1/chat/regenerate", s.handleChatRegenerate)
	mux.HandleFunc("POST /v1/chat/stop", s.handleChatStop)
	mux.HandleFunc("POST /v1/chat/new", s.handleChatNew)
	mux.HandleFunc("GET /v1/chat/messages", s.handleChatMessages)

	mux.HandleFunc("GET /v1/sessions", s.handleSessionList)
	mux.HandleFunc("DELETE /v1/sessions", s.handleSessionClear)
	mux.HandleFunc("GET /v1/sessions/search", s.handleSessionSearch)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleSessionDelete)
	mux.HandleFunc("POST /v1/sessions/{id}/select", s.handleSessionSelect)
	mux.HandleFunc("POST /v1/sessions/{id}/rename", s.handleSessionRename)
	mux.HandleFunc("GET /v1/sessions/{id}/export", s.handleSessionExport)

	mux.HandleFunc("GET /v1/settings", s.handleSettingsGet)
	mux.HandleFunc("PUT /v1/settings", s.handleSettingsPut)

	mux.HandleFunc("GET /v1/models", s.handleModels)

	mux.HandleFunc("GET /v1/commands", s.handleCommandList)
	mux.HandleFunc("POST /v1/commands", s.handleCommandSave)
	mux.HandleFunc("DELETE /v1/commands/{name}", s.handleCommandDelete)

	return Chain(mux,
		RecoveryMiddleware(s.logger),
		LoggingMiddleware(s.logger),
		CORSMiddleware("*"),
		RateLimitMiddleware(NewIPRateLimiter(20, 40)),
		MaxBodyBytes(maxRequestBody),
	)
}

// Start blocks serving until shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ===== HELPERS =====

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// ===== HEALTH =====

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ===== CHAT =====

type sendRequest struct {
	Text   string `json:"text"`
	Quoted string `json:"quoted,omitempty"`
}

// streamOperation relays controller events to the client as SSE. Each
// controller event becomes one named SSE event with a JSON payload.
func (s *Server) streamOperation(w http.ResponseWriter, r *http.Request, run func(obs chat.Observer) error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	obs := func(ev chat.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}

	if err := run(obs); err != nil {
		s.logger.Warn("chat operation failed", "error", err)
		fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
		flusher.Flush()
	}
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quoted != "" {
		s.controller.SetQuote(req.Quoted)
	}
	s.streamOperation(w, r, func(obs chat.Observer) error {
		return s.controller.Send(r.Context(), req.Text, obs)
	})
}

type regenerateRequest struct {
	MessageID int64 `json:"messageId"`
}

func (s *Server) handleChatRegenerate(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.streamOperation(w, r, func(obs chat.Observer) error {
		return s.controller.Regenerate(r.Context(), req.MessageID, obs)
	})
}

func (s *Server) handleChatStop(w http.ResponseWriter, _ *http.Request) {
	s.controller.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChatNew(w http.ResponseWriter, _ *http.Request) {
	s.controller.NewChat()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChatMessages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId":  s.controller.SessionID(),
		"generating": s.controller.IsGenerating(),
		"messages":   s.controller.Messages(),
	})
}

// ===== SESSIONS =====

func (s *Server) handleSessionList(w http.ResponseWriter, _ *http.Request) {
	metas, err := s.repo.Metas()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

func (s *Server) handleSessionClear(w http.ResponseWriter, _ *http.Request) {
	if err := s.repo.ClearAll(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear sessions")
		return
	}
	s.controller.NewChat()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.repo.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.repo.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	if s.controller.SessionID() == id {
		s.controller.NewChat()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionSelect(w http.ResponseWriter, r *http.Request) {
	err := s.controller.SelectSession(r.PathValue("id"))
	switch {
	case errors.Is(err, chat.ErrStreamInFlight):
		writeError(w, http.StatusConflict, "a response is still streaming")
	case errors.Is(err, storage.ErrChatNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to select session")
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"sessionId": s.controller.SessionID(),
			"messages":  s.controller.Messages(),
		})
	}
}

type renameRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleSessionRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title required")
		return
	}
	err := s.repo.Rename(r.PathValue("id"), req.Title)
	if errors.Is(err, session.ErrSessionMissing) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to rename session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	format := r.URL.Query().Get("format")

	switch format {
	case "", "markdown", "md":
		md, err := s.repo.ExportMarkdown(id)
		if err != nil {
			if errors.Is(err, storage.ErrChatNotFound) {
				writeError(w, http.StatusNotFound, "session not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to export session")
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(md))
	case "json":
		raw, err := s.repo.ExportJSON(id)
		if err != nil {
			if errors.Is(err, storage.ErrChatNotFound) {
				writeError(w, http.StatusNotFound, "session not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to export session")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(raw)
	default:
		writeError(w, http.StatusBadRequest, "unknown export format")
	}
}

func (s *Server) handleSessionSearch(w http.ResponseWriter, r *http.Request) {
	metas, err := s.repo.Search(r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

// ===== SETTINGS =====

func (s *Server) handleSettingsGet(w http.ResponseWriter, _ *http.Request) {
	all, err := s.settings.All()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	var req map[string]json.RawMessage
	if !decodeBody(w, r, &req) {
		return
	}
	for key, value := range req {
		if err := s.settings.Set(key, value); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// ===== MODELS =====

type modelEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Custom bool   `json:"custom"`
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	custom := s.settings.CustomModels()

	out := make([]modelEntry, 0, len(provider.BuiltinModels)+len(custom))
	for _, id := range provider.BuiltinModels {
		out = append(out, modelEntry{ID: id, Name: provider.DisplayName(id, nil)})
	}
	for _, m := range custom {
		out = append(out, modelEntry{ID: m.ID, Name: provider.DisplayName(m.ID, custom), Custom: true})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"selected": s.settings.SelectedModel(),
		"models":   out,
	})
}

// ===== COMMANDS =====

func (s *Server) handleCommandList(w http.ResponseWriter, _ *http.Request) {
	cmds, err := s.registry.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list commands")
		return
	}
	if cmds == nil {
		cmds = []storage.Command{}
	}
	writeJSON(w, http.StatusOK, cmds)
}

type commandRequest struct {
	Name        string `json:"name"`
	Template    string `json:"template"`
	Description string `json:"description"`
}

func (s *Server) handleCommandSave(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.Template == "" {
		writeError(w, http.StatusBadRequest, "name and template required")
		return
	}
	if err := s.registry.Save(req.Name, req.Template, req.Description); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save command")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCommandDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(r.PathValue("name")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete command")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
