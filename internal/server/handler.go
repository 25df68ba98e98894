package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	apperr "github.com/driftchat/driftchat/internal/errors"
	"github.com/driftchat/driftchat/internal/service/identity"
	"github.com/driftchat/driftchat/internal/service/match"
	"github.com/driftchat/driftchat/internal/sweeper"
)

// Handler exposes the matchmaking core over HTTP/JSON.
type Handler struct {
	identities *identity.Service
	matcher    *match.Service
	sweep      *sweeper.Sweeper
	logger     *slog.Logger
}

func NewHandler(identities *identity.Service, matcher *match.Service, sweep *sweeper.Sweeper, logger *slog.Logger) *Handler {
	return &Handler{
		identities: identities,
		matcher:    matcher,
		sweep:      sweep,
		logger:     logger,
	}
}

// Router builds the route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/identities", h.Register).Methods("POST")
	r.HandleFunc("/heartbeat", h.Heartbeat).Methods("POST")
	r.HandleFunc("/match", h.RequestMatch).Methods("POST")
	r.HandleFunc("/sessions/{id}/close", h.CloseSession).Methods("POST")
	r.HandleFunc("/sessions/{id}/messages", h.SessionMessages).Methods("GET")
	r.HandleFunc("/cleanup", h.RunCleanup).Methods("POST")
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Register creates a fresh anonymous identity and returns its credentials.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	creds, err := h.identities.Register(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, creds)
}

type tokenRequest struct {
	Token string `json:"token"`
}

// Heartbeat refreshes the caller's activity timestamp.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		h.writeError(w, apperr.InvalidArgument("token is required"))
		return
	}

	ident, err := h.identities.Resolve(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.identities.Heartbeat(r.Context(), ident.ID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type matchRequest struct {
	Token     string   `json:"token"`
	Interests []string `json:"interests"`
}

// RequestMatch runs one match attempt for the caller.
func (h *Handler) RequestMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		h.writeError(w, apperr.InvalidArgument("token is required"))
		return
	}

	ident, err := h.identities.Resolve(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.matcher.RequestMatch(r.Context(), ident.ID, req.Interests)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CloseSession ends a session on behalf of one of its participants.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		h.writeError(w, apperr.InvalidArgument("token is required"))
		return
	}

	ident, err := h.identities.Resolve(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.matcher.CloseSession(r.Context(), sessionID, ident.ID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// SessionMessages returns a session's messages to one of its participants.
func (h *Handler) SessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	token := r.URL.Query().Get("token")
	if token == "" {
		h.writeError(w, apperr.InvalidArgument("token is required"))
		return
	}

	ident, err := h.identities.Resolve(r.Context(), token)
	if err != nil {
		h.writeError(w, err)
		return
	}

	messages, err := h.matcher.SessionMessages(r.Context(), sessionID, ident.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

// RunCleanup triggers one sweeper pass on demand and returns its summary.
func (h *Handler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	summary := h.sweep.Run(r.Context())
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
