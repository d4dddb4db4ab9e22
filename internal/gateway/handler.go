package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sksarvesh007/gpuflow/internal/models"
	"github.com/sksarvesh007/gpuflow/internal/store"
)

// CloseUnauthorized is sent to connections presenting an unknown auth
// token before they are dropped.
const CloseUnauthorized = 4003

// MachineStore is the repository surface the lifecycle handler needs.
type MachineStore interface {
	GetMachineByToken(ctx context.Context, token string) (*models.Machine, error)
	SetMachineOnline(ctx context.Context, id string, online bool) error
	UpdateMachineHardware(ctx context.Context, id, gpuName string, vramGB int) error
}

// Handler runs the per-connection lifecycle: authenticate by token,
// register, process inbound control frames, and reconcile state on
// disconnect. One goroutine per connection; the read loop is the
// connection's only reader and the registry (via the bridge) its only
// writer.
type Handler struct {
	Store    MachineStore
	Registry *Registry
	upgrader websocket.Upgrader
}

func NewHandler(st MachineStore, reg *Registry) *Handler {
	return &Handler{
		Store:    st,
		Registry: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Machines connect from desktop agents, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles GET /ws/machine/{auth_token}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("auth_token")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	machine, err := h.Store.GetMachineByToken(r.Context(), token)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("gateway: token lookup: %v", err)
		}
		// Unknown token: reject with the unauthorized close code, no
		// state change.
		msg := websocket.FormatCloseMessage(CloseUnauthorized, "unauthorized")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	h.serveMachine(r.Context(), machine, conn)
}

func (h *Handler) serveMachine(ctx context.Context, machine *models.Machine, conn *websocket.Conn) {
	h.Registry.Register(machine.ID, conn)

	// A freshly (re)connected machine is always presumed idle; this
	// overrides stale busy state left by an abrupt disconnect.
	if err := h.Store.SetMachineOnline(ctx, machine.ID, true); err != nil {
		log.Printf("gateway: machine %s online: %v", machine.ID, err)
		h.Registry.Unregister(machine.ID, conn)
		_ = conn.Close()
		return
	}
	log.Printf("gateway: machine %s (%s) connected", machine.Name, machine.ID)

	defer func() {
		h.Registry.Unregister(machine.ID, conn)
		_ = conn.Close()
		// The request context is gone once the handler unwinds; the
		// offline flip must still commit.
		if err := h.Store.SetMachineOnline(context.Background(), machine.ID, false); err != nil {
			log.Printf("gateway: machine %s offline: %v", machine.ID, err)
		}
		// Jobs assigned or running on this machine are NOT requeued
		// here; they stay orphaned until reconciled out of band.
		log.Printf("gateway: machine %s (%s) disconnected", machine.Name, machine.ID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame models.ControlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("gateway: machine %s: bad frame: %v", machine.ID, err)
			continue
		}

		switch frame.Type {
		case models.FrameHardwareInfo:
			if err := h.Store.UpdateMachineHardware(ctx, machine.ID, frame.GPUName, frame.VRAMGB); err != nil {
				log.Printf("gateway: machine %s hardware update: %v", machine.ID, err)
				continue
			}
			log.Printf("gateway: machine %s reported GPU=%s VRAM=%dGB", machine.Name, frame.GPUName, frame.VRAMGB)
		case models.FrameHeartbeat:
			// Liveness signal only; no deadline is enforced on it.
			log.Printf("gateway: heartbeat from machine %s", machine.Name)
		default:
			log.Printf("gateway: machine %s sent unknown frame type %q", machine.ID, frame.Type)
		}
	}
}
