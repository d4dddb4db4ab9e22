package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sksarvesh007/gpuflow/internal/models"
)

const machineColumns = `id, owner_id, name, description, auth_token, device_id, gpu_name, vram_gb, is_online, status, created_at, updated_at`

func scanMachine(row interface{ Scan(...any) error }) (*models.Machine, error) {
	var (
		m         models.Machine
		status    string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&m.ID, &m.OwnerID, &m.Name, &m.Description, &m.AuthToken,
		&m.DeviceID, &m.GPUName, &m.VRAMGB, &m.IsOnline, &status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	m.Status = models.MachineStatus(status)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}

// newAuthToken returns a 32-byte URL-safe random token.
func newAuthToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// CreateMachine registers a new machine for ownerID. The machine starts
// offline; a server-generated auth token is its connection credential.
// An empty deviceID gets a generated fingerprint.
func (s *Store) CreateMachine(ctx context.Context, ownerID, name, description, deviceID string) (*models.Machine, error) {
	id := uuid.NewString()
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO machines (id, owner_id, name, description, auth_token, device_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, ownerID, name, description, newAuthToken(), deviceID,
		string(models.MachineOffline), ts, ts)
	if err != nil {
		return nil, fmt.Errorf("create machine: %w", err)
	}
	return s.GetMachine(ctx, id)
}

// GetMachine loads a machine by id.
func (s *Store) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE id = ?`, id)
	return machineOrNotFound(row, id)
}

// GetMachineByToken resolves a connection auth token to its machine.
// Returns ErrNotFound for unknown tokens; the caller rejects those
// connections without any state change.
func (s *Store) GetMachineByToken(ctx context.Context, token string) (*models.Machine, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE auth_token = ?`, token)
	return machineOrNotFound(row, "by token")
}

func machineOrNotFound(row *sql.Row, ref string) (*models.Machine, error) {
	m, err := scanMachine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get machine %s: %w", ref, err)
	}
	return m, nil
}

// ListMachinesByOwner returns ownerID's machines, oldest first.
func (s *Store) ListMachinesByOwner(ctx context.Context, ownerID string) ([]*models.Machine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	defer rows.Close()

	var machines []*models.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan machine: %w", err)
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

// GetIdleOnlineMachine returns the dispatch candidate: the
// oldest-registered machine that is online and idle, or (nil, nil) when
// no machine qualifies. The ordering is deterministic on purpose; the
// result is only a candidate and is not authoritative until the claim
// transaction succeeds.
func (s *Store) GetIdleOnlineMachine(ctx context.Context) (*models.Machine, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+machineColumns+` FROM machines
		WHERE is_online = 1 AND status = ?
		ORDER BY created_at, id LIMIT 1`,
		string(models.MachineIdle))
	m, err := scanMachine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select idle machine: %w", err)
	}
	return m, nil
}

// SetMachineOnline flips the liveness flag and reconciles status: a
// machine coming online is always presumed idle, overriding any stale
// busy left over from a previous session; a machine going offline is
// always offline.
func (s *Store) SetMachineOnline(ctx context.Context, id string, online bool) error {
	status := models.MachineOffline
	if online {
		status = models.MachineIdle
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE machines SET is_online = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		online, string(status), now(), id)
	if err != nil {
		return fmt.Errorf("set machine %s online=%t: %w", id, online, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMachineHardware records a machine's self-reported capability.
// Status is untouched.
func (s *Store) UpdateMachineHardware(ctx context.Context, id, gpuName string, vramGB int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE machines SET gpu_name = ?, vram_gb = ?, updated_at = ?
		WHERE id = ?`,
		gpuName, vramGB, now(), id)
	if err != nil {
		return fmt.Errorf("update machine %s hardware: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
