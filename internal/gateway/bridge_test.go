package gateway

import (
	"context"
	"sync"
	"testing"

	"github.com/sksarvesh007/gpuflow/internal/models"
)

type scriptedSub struct {
	events []models.DispatchEvent
	raws   [][]byte
}

func (s *scriptedSub) Run(ctx context.Context, fn func(ev models.DispatchEvent, raw []byte)) error {
	for i, ev := range s.events {
		fn(ev, s.raws[i])
	}
	return nil
}

type recordingSender struct {
	mu    sync.Mutex
	sends map[string][][]byte
	live  map[string]bool
}

func (r *recordingSender) Send(machineID string, msg []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sends == nil {
		r.sends = make(map[string][][]byte)
	}
	r.sends[machineID] = append(r.sends[machineID], msg)
	return r.live[machineID]
}

func TestBridge_ForwardsEventsVerbatim(t *testing.T) {
	raw := []byte(`{"event":"START_JOB","machine_id":"m1","job_id":"j1","payload":"train()"}`)
	sub := &scriptedSub{
		events: []models.DispatchEvent{{Event: models.EventStartJob, MachineID: "m1", JobID: "j1", Payload: "train()"}},
		raws:   [][]byte{raw},
	}
	sender := &recordingSender{live: map[string]bool{"m1": true}}

	b := NewBridge(sub, sender)
	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("bridge run: %v", err)
	}

	got := sender.sends["m1"]
	if len(got) != 1 || string(got[0]) != string(raw) {
		t.Errorf("forwarded %q, want the raw message verbatim", got)
	}
}

func TestBridge_DropForDisconnectedMachineDoesNotStopLoop(t *testing.T) {
	sub := &scriptedSub{
		events: []models.DispatchEvent{
			{Event: models.EventStartJob, MachineID: "gone", JobID: "j1"},
			{Event: models.EventStartJob, MachineID: "m1", JobID: "j2"},
		},
		raws: [][]byte{[]byte("a"), []byte("b")},
	}
	sender := &recordingSender{live: map[string]bool{"m1": true}}

	b := NewBridge(sub, sender)
	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("bridge run: %v", err)
	}

	if len(sender.sends["m1"]) != 1 {
		t.Error("event after a dropped delivery was not forwarded")
	}
}
