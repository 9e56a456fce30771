// Package server exposes the conversation API over HTTP. Streamed turns are
// written as newline-delimited JSON; everything else is plain JSON.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/helix/pkg/auth"
	"github.com/go-go-golems/helix/pkg/orchestrator"
	"github.com/go-go-golems/helix/pkg/store"
)

type Server struct {
	router *mux.Router
	store  *store.Store
	orch   *orchestrator.Orchestrator
	auth   auth.Provider
}

func New(s *store.Store, orch *orchestrator.Orchestrator, authProvider auth.Provider) *Server {
	srv := &Server{
		router: mux.NewRouter(),
		store:  s,
		orch:   orch,
		auth:   authProvider,
	}
	srv.routes()
	return srv
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/conversations", s.handleCreateConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations", s.handleListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}", s.handleDeleteConversation).Methods(http.MethodDelete)
	api.HandleFunc("/conversations/{id}/versions", s.handleListVersions).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/groups/{groupId}", s.handleUpdateGroupIndex).Methods(http.MethodPatch)
	api.HandleFunc("/versiongroups/{id}", s.handleDeleteVersionGroup).Methods(http.MethodDelete)

	api.HandleFunc("/conversations/{id}/query", s.handleQuery).Methods(http.MethodPost)
	api.HandleFunc("/conversations/edit/{messageId}", s.handleEdit).Methods(http.MethodPut)
}

// principal resolves the authenticated user or writes a 401.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := s.auth.Principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
		return "", false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeStoreError maps store sentinels to HTTP statuses. Ownership failures
// surface as 401, never as empty results.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrNotOwned):
		writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, store.ErrInvalidIndex), errors.Is(err, orchestrator.ErrEmptyQuery), errors.Is(err, orchestrator.ErrNotEditable):
		writeError(w, http.StatusBadRequest, err)
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err)
	}
}
