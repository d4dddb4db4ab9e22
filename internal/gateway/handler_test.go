package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sksarvesh007/gpuflow/internal/models"
	"github.com/sksarvesh007/gpuflow/internal/store"
)

type gatewayFixture struct {
	store    *store.Store
	registry *Registry
	server   *httptest.Server
	machine  *models.Machine
	job      *models.Job
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(filepath.Join(t.TempDir(), "gpuflow.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	u, err := s.CreateUser(ctx, "a@example.com", "tester", "pw")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	m, err := s.CreateMachine(ctx, u.ID, "rig-1", "", "")
	if err != nil {
		t.Fatalf("create machine: %v", err)
	}
	j, err := s.CreateJob(ctx, u.ID, []byte("train()"))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	registry := NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("GET /ws/machine/{auth_token}", NewHandler(s, registry))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &gatewayFixture{store: s, registry: registry, server: server, machine: m, job: j}
}

func (f *gatewayFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(f.server.URL, "http", "ws", 1) + "/ws/machine/" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *gatewayFixture) machineState(t *testing.T) *models.Machine {
	t.Helper()
	m, err := f.store.GetMachine(context.Background(), f.machine.ID)
	if err != nil {
		t.Fatalf("reload machine: %v", err)
	}
	return m
}

func TestHandler_UnknownTokenClosedUnauthorized(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "bogus-token")

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("read err = %v, want a close error", err)
	}
	if closeErr.Code != CloseUnauthorized {
		t.Errorf("close code = %d, want %d", closeErr.Code, CloseUnauthorized)
	}

	// No state change for a rejected connection.
	if m := f.machineState(t); m.IsOnline || m.Status != models.MachineOffline {
		t.Errorf("machine mutated by rejected connection: online=%t status=%q", m.IsOnline, m.Status)
	}
}

func TestHandler_ConnectMarksMachineOnlineIdle(t *testing.T) {
	f := newGatewayFixture(t)
	f.dial(t, f.machine.AuthToken)

	waitFor(t, "machine online", func() bool {
		m := f.machineState(t)
		return m.IsOnline && m.Status == models.MachineIdle
	})
	waitFor(t, "registry entry", func() bool { return f.registry.Len() == 1 })
}

func TestHandler_HardwareInfoUpdatesCapability(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, f.machine.AuthToken)
	waitFor(t, "machine online", func() bool { return f.machineState(t).IsOnline })

	err := conn.WriteJSON(models.ControlFrame{Type: models.FrameHardwareInfo, GPUName: "RTX4090", VRAMGB: 24})
	if err != nil {
		t.Fatalf("write hardware_info: %v", err)
	}

	waitFor(t, "hardware fields", func() bool {
		m := f.machineState(t)
		return m.GPUName == "RTX4090" && m.VRAMGB == 24
	})
	if m := f.machineState(t); m.Status != models.MachineIdle {
		t.Errorf("status = %q, hardware report must not change it", m.Status)
	}
}

func TestHandler_DispatchEventReachesConnection(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, f.machine.AuthToken)
	waitFor(t, "registry entry", func() bool { return f.registry.Len() == 1 })

	payload := []byte(`{"event":"START_JOB","machine_id":"` + f.machine.ID + `","job_id":"j1","payload":"train()"}`)
	if !f.registry.Send(f.machine.ID, payload) {
		t.Fatal("send via registry failed")
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("machine received %q, want the event verbatim", data)
	}
}

func TestHandler_DisconnectMarksOfflineAndKeepsJobOrphaned(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	conn := f.dial(t, f.machine.AuthToken)
	waitFor(t, "machine online", func() bool { return f.machineState(t).IsOnline })

	// The machine is busy running a job, then drops abruptly.
	if err := f.store.ClaimMachineForJob(ctx, f.job.ID, f.machine.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := f.store.MarkJobRunning(ctx, f.job.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	_ = conn.Close()

	waitFor(t, "machine offline", func() bool {
		m := f.machineState(t)
		return !m.IsOnline && m.Status == models.MachineOffline
	})
	waitFor(t, "registry empty", func() bool { return f.registry.Len() == 0 })

	// The running job stays orphaned; nothing requeues or fails it.
	j, err := f.store.GetJob(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if j.Status != models.JobRunning || j.MachineID != f.machine.ID {
		t.Errorf("orphaned job mutated: status=%q machine=%q", j.Status, j.MachineID)
	}
}

func TestHandler_ReconnectResetsToIdle(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	conn := f.dial(t, f.machine.AuthToken)
	waitFor(t, "machine online", func() bool { return f.machineState(t).IsOnline })

	if err := f.store.ClaimMachineForJob(ctx, f.job.ID, f.machine.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_ = conn.Close()
	waitFor(t, "machine offline", func() bool { return !f.machineState(t).IsOnline })

	// Same auth token, fresh session: reachable again under the
	// original identity and presumed idle despite the stale busy.
	f.dial(t, f.machine.AuthToken)
	waitFor(t, "machine idle after reconnect", func() bool {
		m := f.machineState(t)
		return m.IsOnline && m.Status == models.MachineIdle
	})
	waitFor(t, "registry entry", func() bool { return f.registry.Len() == 1 })
}
