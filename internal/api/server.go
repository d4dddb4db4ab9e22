// Package api is the HTTP surface: job submission and status updates,
// machine registration, user auth. It never talks to the gateway or
// the dispatcher directly; everything it does goes through the entity
// store and the work queue.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/sksarvesh007/gpuflow/internal/models"
	"github.com/sksarvesh007/gpuflow/internal/queue"
	"github.com/sksarvesh007/gpuflow/internal/store"
)

type Server struct {
	store    *store.Store
	producer queue.Producer
	mux      *http.ServeMux
}

func NewServer(st *store.Store, producer queue.Producer) *Server {
	s := &Server{store: st, producer: producer}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/v1/users", s.handleCreateUser)
	mux.HandleFunc("POST /api/v1/login", s.handleLogin)
	mux.HandleFunc("POST /api/v1/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /api/v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("PATCH /api/v1/jobs/{id}", s.handleUpdateJob)
	mux.HandleFunc("POST /api/v1/machines", s.handleCreateMachine)
	mux.HandleFunc("GET /api/v1/machines", s.handleListMachines)
	s.mux = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "connected"
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		status = "degraded"
		dbStatus = "disconnected: " + err.Error()
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":    status,
		"db_status": dbStatus,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return token
	}
	return ""
}

// currentUser resolves the request's session token. Writes the error
// response itself and returns nil when the request is unauthenticated.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) *models.User {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return nil
	}
	user, err := s.store.GetUserBySession(r.Context(), token)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "invalid session")
		return nil
	}
	if err != nil {
		s.internalError(w, r.Context(), err)
		return nil
	}
	return user
}

// currentMachine resolves the request's machine auth token, for the
// worker-side job update endpoint.
func (s *Server) currentMachine(w http.ResponseWriter, r *http.Request) *models.Machine {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return nil
	}
	machine, err := s.store.GetMachineByToken(r.Context(), token)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "invalid machine token")
		return nil
	}
	if err != nil {
		s.internalError(w, r.Context(), err)
		return nil
	}
	return machine
}

func (s *Server) internalError(w http.ResponseWriter, ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	log.Printf("api: %v", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
