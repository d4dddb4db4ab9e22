// Package dispatch pairs pending jobs with idle machines. Correctness
// under concurrent dispatchers rests entirely on the store's guarded
// claim transaction; candidate selection is only a hint.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/sksarvesh007/gpuflow/internal/models"
	"github.com/sksarvesh007/gpuflow/internal/store"
)

// Store is the repository surface the dispatcher consumes.
type Store interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
	GetIdleOnlineMachine(ctx context.Context) (*models.Machine, error)
	ClaimMachineForJob(ctx context.Context, jobID, machineID string) error
}

// Publisher emits the dispatch event after a successful claim.
type Publisher interface {
	PublishJobStart(ctx context.Context, machineID, jobID string, payload []byte) error
}

type Dispatcher struct {
	store Store
	pub   Publisher

	// claimRetries bounds the re-select loop after lost claim races.
	claimRetries int
}

func New(st Store, pub Publisher, claimRetries int) *Dispatcher {
	if claimRetries < 1 {
		claimRetries = 1
	}
	return &Dispatcher{store: st, pub: pub, claimRetries: claimRetries}
}

// Dispatch handles one work item. It is safe to call more than once for
// the same job id: anything but a pending job is a no-op. A returned
// error means the work item should be redelivered; "no machine
// available" is not an error, the job just stays pending until the
// queue's retry cadence brings it back.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID string) error {
	job, err := d.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("dispatch: job %s not found, dropping work item", jobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != models.JobPending {
		// Duplicate or late delivery; the job already moved on.
		return nil
	}

	for attempt := 0; attempt < d.claimRetries; attempt++ {
		machine, err := d.store.GetIdleOnlineMachine(ctx)
		if err != nil {
			return fmt.Errorf("select machine for job %s: %w", jobID, err)
		}
		if machine == nil {
			log.Printf("dispatch: no machines available for job %s, leaving pending", jobID)
			return nil
		}

		err = d.store.ClaimMachineForJob(ctx, jobID, machine.ID)
		if errors.Is(err, store.ErrClaimLost) {
			// A concurrent dispatcher took the machine (or the job
			// itself); re-select. The claim guard rolled everything back.
			continue
		}
		if err != nil {
			return fmt.Errorf("claim machine %s for job %s: %w", machine.ID, jobID, err)
		}

		log.Printf("dispatch: job %s assigned to machine %s", jobID, machine.ID)
		if err := d.pub.PublishJobStart(ctx, machine.ID, jobID, job.Payload); err != nil {
			// The claim is committed; the event is the only loss. Surface
			// the error so the queue redelivers and the status guard makes
			// the retry a no-op, leaving the gap visible in the logs.
			return fmt.Errorf("publish start for job %s: %w", jobID, err)
		}
		return nil
	}

	log.Printf("dispatch: gave up claiming a machine for job %s after %d races, leaving pending", jobID, d.claimRetries)
	return nil
}
