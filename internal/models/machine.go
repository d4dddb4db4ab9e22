package models

import "time"

type MachineStatus string

const (
	MachineOffline MachineStatus = "offline"
	MachineIdle    MachineStatus = "idle"
	MachineBusy    MachineStatus = "busy"
)

// Machine is a registered remote worker rig. GPUName and VRAMGB are
// self-reported by the machine after it connects, not at registration.
// Status is "offline" whenever IsOnline is false; the dispatcher may
// only claim a machine while IsOnline is true and Status is "idle".
type Machine struct {
	ID          string        `json:"id"`
	OwnerID     string        `json:"owner_id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	AuthToken   string        `json:"auth_token,omitempty"`
	DeviceID    string        `json:"device_id,omitempty"`
	GPUName     string        `json:"gpu_name,omitempty"`
	VRAMGB      int           `json:"vram_gb,omitempty"`
	IsOnline    bool          `json:"is_online"`
	Status      MachineStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Inbound control frame types on a worker connection.
const (
	FrameHardwareInfo = "hardware_info"
	FrameHeartbeat    = "heartbeat"
)

// ControlFrame is an inbound message from a connected machine, tagged by
// Type. Hardware fields are only meaningful for FrameHardwareInfo.
type ControlFrame struct {
	Type    string `json:"type"`
	GPUName string `json:"gpu_name,omitempty"`
	VRAMGB  int    `json:"vram_gb,omitempty"`
}
