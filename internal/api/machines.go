package api

import (
	"net/http"
	"strings"

	"github.com/sksarvesh007/gpuflow/internal/models"
)

type createMachineRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	DeviceID    string `json:"device_id,omitempty"`
}

func (s *Server) handleCreateMachine(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}

	var req createMachineRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	machine, err := s.store.CreateMachine(r.Context(), user.ID, req.Name, req.Description, req.DeviceID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			writeError(w, http.StatusConflict, "device already registered")
			return
		}
		s.internalError(w, r.Context(), err)
		return
	}

	// The auth token appears once, in this response; the machine keeps
	// it and presents it when connecting to the gateway.
	writeJSON(w, http.StatusCreated, machine)
}

func (s *Server) handleListMachines(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}

	machines, err := s.store.ListMachinesByOwner(r.Context(), user.ID)
	if err != nil {
		s.internalError(w, r.Context(), err)
		return
	}
	if machines == nil {
		machines = []*models.Machine{}
	}
	for _, m := range machines {
		m.AuthToken = ""
	}
	writeJSON(w, http.StatusOK, machines)
}
