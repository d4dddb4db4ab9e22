package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sksarvesh007/gpuflow/internal/models"
)

const jobColumns = `id, creator_id, machine_id, status, payload, result_url, error_message, created_at, started_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var (
		j         models.Job
		status    string
		machineID sql.NullString
		createdAt string
		startedAt sql.NullString
		doneAt    sql.NullString
	)
	err := row.Scan(&j.ID, &j.CreatorID, &machineID, &status, &j.Payload,
		&j.ResultURL, &j.ErrorMessage, &createdAt, &startedAt, &doneAt)
	if err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	j.MachineID = machineID.String
	j.CreatedAt = parseTime(createdAt)
	j.StartedAt = parseNullTime(startedAt)
	j.CompletedAt = parseNullTime(doneAt)
	return &j, nil
}

// CreateJob persists a new pending job owned by creatorID.
func (s *Store) CreateJob(ctx context.Context, creatorID string, payload []byte) (*models.Job, error) {
	id := uuid.NewString()
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, creator_id, status, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, creatorID, string(models.JobPending), payload, ts)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob loads a job by id. Returns ErrNotFound if it does not exist.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// ListJobsByCreator returns all jobs owned by creatorID, newest first.
func (s *Store) ListJobsByCreator(ctx context.Context, creatorID string) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE creator_id = ? ORDER BY created_at DESC, id`, creatorID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ClaimMachineForJob is the dispatch claim: one transaction that moves
// the machine idle->busy and the job pending->assigned. Both updates are
// guarded on the expected current status; if either matches zero rows a
// concurrent writer won the race and the whole transaction rolls back
// with ErrClaimLost.
func (s *Store) ClaimMachineForJob(ctx context.Context, jobID, machineID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	ts := now()

	res, err := tx.ExecContext(ctx, `
		UPDATE machines SET status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND is_online = 1`,
		string(models.MachineBusy), ts, machineID, string(models.MachineIdle))
	if err != nil {
		return fmt.Errorf("claim machine %s: %w", machineID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrClaimLost
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, machine_id = ?
		WHERE id = ? AND status = ?`,
		string(models.JobAssigned), machineID, jobID, string(models.JobPending))
	if err != nil {
		return fmt.Errorf("assign job %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrClaimLost
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit claim: %w", err)
	}
	return nil
}

// MarkJobRunning records the worker's running report. Guarded on the
// job currently being assigned.
func (s *Store) MarkJobRunning(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, started_at = ?
		WHERE id = ? AND status = ?`,
		string(models.JobRunning), now(), id, string(models.JobAssigned))
	if err != nil {
		return fmt.Errorf("mark job %s running: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrClaimLost
	}
	return nil
}

// CompleteJob finishes a job and frees its machine back to idle in the
// same transaction. The machine update is guarded on busy so that a
// machine that reconnected (and was reset to idle) is left alone.
func (s *Store) CompleteJob(ctx context.Context, id, resultURL string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete: %w", err)
	}
	defer tx.Rollback()

	ts := now()

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?, result_url = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(models.JobCompleted), ts, resultURL, id,
		string(models.JobAssigned), string(models.JobRunning))
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrClaimLost
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE machines SET status = ?, updated_at = ?
		WHERE id = (SELECT machine_id FROM jobs WHERE id = ?) AND status = ?`,
		string(models.MachineIdle), ts, id, string(models.MachineBusy))
	if err != nil {
		return fmt.Errorf("release machine for job %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete: %w", err)
	}
	return nil
}

// FailJob records a terminal failure. The machine is deliberately not
// released here; only a completed job frees its machine, matching the
// worker update contract.
func (s *Store) FailJob(ctx context.Context, id, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(models.JobFailed), now(), errorMessage, id,
		string(models.JobAssigned), string(models.JobRunning))
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrClaimLost
	}
	return nil
}
