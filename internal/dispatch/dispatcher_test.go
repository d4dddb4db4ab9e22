package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sksarvesh007/gpuflow/internal/models"
	"github.com/sksarvesh007/gpuflow/internal/store"
)

type publishedEvent struct {
	MachineID string
	JobID     string
	Payload   string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *fakePublisher) PublishJobStart(_ context.Context, machineID, jobID string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{machineID, jobID, string(payload)})
	return nil
}

func (p *fakePublisher) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "gpuflow.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *store.Store, online bool) (*models.Job, *models.Machine) {
	t.Helper()
	ctx := context.Background()
	u, err := s.CreateUser(ctx, "a@example.com", "tester", "pw")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	m, err := s.CreateMachine(ctx, u.ID, "rig-1", "", "")
	if err != nil {
		t.Fatalf("create machine: %v", err)
	}
	if online {
		if err := s.SetMachineOnline(ctx, m.ID, true); err != nil {
			t.Fatalf("set online: %v", err)
		}
	}
	j, err := s.CreateJob(ctx, u.ID, []byte("train()"))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j, m
}

func TestDispatch_AssignsIdleMachineAndPublishes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j, m := seed(t, s, true)
	pub := &fakePublisher{}
	d := New(s, pub, 3)

	if err := d.Dispatch(ctx, j.ID); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if got.Status != models.JobAssigned || got.MachineID != m.ID {
		t.Errorf("job: status=%q machine_id=%q, want assigned to %s", got.Status, got.MachineID, m.ID)
	}

	machine, err := s.GetMachine(ctx, m.ID)
	if err != nil {
		t.Fatalf("reload machine: %v", err)
	}
	if machine.Status != models.MachineBusy {
		t.Errorf("machine status = %q, want busy", machine.Status)
	}

	events := pub.published()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.MachineID != m.ID || ev.JobID != j.ID || ev.Payload != "train()" {
		t.Errorf("event = %+v", ev)
	}
}

func TestDispatch_NoMachineLeavesJobPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j, _ := seed(t, s, false)
	pub := &fakePublisher{}
	d := New(s, pub, 3)

	if err := d.Dispatch(ctx, j.ID); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if got.Status != models.JobPending || got.MachineID != "" {
		t.Errorf("job: status=%q machine_id=%q, want untouched pending", got.Status, got.MachineID)
	}
	if len(pub.published()) != 0 {
		t.Error("no event must be published when no machine is available")
	}
}

func TestDispatch_SecondInvocationIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j, _ := seed(t, s, true)
	pub := &fakePublisher{}
	d := New(s, pub, 3)

	if err := d.Dispatch(ctx, j.ID); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if err := d.Dispatch(ctx, j.ID); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}

	if n := len(pub.published()); n != 1 {
		t.Errorf("published %d events after duplicate delivery, want 1", n)
	}
}

func TestDispatch_UnknownJobIsNoop(t *testing.T) {
	s := newTestStore(t)
	pub := &fakePublisher{}
	d := New(s, pub, 3)

	if err := d.Dispatch(context.Background(), "no-such-job"); err != nil {
		t.Fatalf("dispatch of unknown job: %v", err)
	}
	if len(pub.published()) != 0 {
		t.Error("no event for an unknown job")
	}
}

// racingStore loses the first claim (as if a concurrent dispatcher took
// the candidate) and then behaves normally.
type racingStore struct {
	Store
	mu     sync.Mutex
	losses int
	lost   int
}

func (r *racingStore) ClaimMachineForJob(ctx context.Context, jobID, machineID string) error {
	r.mu.Lock()
	if r.lost < r.losses {
		r.lost++
		r.mu.Unlock()
		return store.ErrClaimLost
	}
	r.mu.Unlock()
	return r.Store.ClaimMachineForJob(ctx, jobID, machineID)
}

func TestDispatch_RetriesAfterLostClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j, m := seed(t, s, true)
	pub := &fakePublisher{}
	d := New(&racingStore{Store: s, losses: 2}, pub, 3)

	if err := d.Dispatch(ctx, j.ID); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if got.Status != models.JobAssigned || got.MachineID != m.ID {
		t.Errorf("job not assigned after retried claim: status=%q machine=%q", got.Status, got.MachineID)
	}
	if n := len(pub.published()); n != 1 {
		t.Errorf("published %d events, want 1", n)
	}
}

func TestDispatch_GivesUpAfterRetriesButStaysPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j, _ := seed(t, s, true)
	pub := &fakePublisher{}
	d := New(&racingStore{Store: s, losses: 100}, pub, 3)

	if err := d.Dispatch(ctx, j.ID); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if got.Status != models.JobPending {
		t.Errorf("job status = %q, want pending after exhausted retries", got.Status)
	}
	if len(pub.published()) != 0 {
		t.Error("no event after exhausted retries")
	}
}

func TestDispatch_PublishErrorSurfacesForRedelivery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j, _ := seed(t, s, true)
	pub := &fakePublisher{err: errors.New("bus down")}
	d := New(s, pub, 3)

	if err := d.Dispatch(ctx, j.ID); err == nil {
		t.Fatal("dispatch must return the publish error")
	}

	// The claim itself stays committed; redelivery will no-op.
	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if got.Status != models.JobAssigned {
		t.Errorf("job status = %q, want assigned (claim committed)", got.Status)
	}
}
