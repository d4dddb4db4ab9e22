package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sksarvesh007/gpuflow/internal/store"
)

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		s.internalError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !readJSON(w, r, &req) {
		return
	}

	user, err := s.store.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, store.ErrBadCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err != nil {
		s.internalError(w, r.Context(), err)
		return
	}

	token, err := s.store.CreateSession(r.Context(), user.ID)
	if err != nil {
		s.internalError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
