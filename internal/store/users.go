package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sksarvesh007/gpuflow/internal/models"
)

// ErrBadCredentials is returned by Authenticate for an unknown email or
// a wrong password; callers must not distinguish the two.
var ErrBadCredentials = errors.New("store: bad credentials")

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var (
		u         models.User
		createdAt string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &createdAt); err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

// CreateUser registers a user with a bcrypt-hashed password.
func (s *Store) CreateUser(ctx context.Context, email, name, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	id := uuid.NewString()
	ts := now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, email, name, hash, ts)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &models.User{ID: id, Email: email, Name: name, CreatedAt: parseTime(ts)}, nil
}

// Authenticate checks email/password and returns the user.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, created_at FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", email, err)
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	return u, nil
}

// CreateSession issues an opaque bearer token for userID.
func (s *Store) CreateSession(ctx context.Context, userID string) (string, error) {
	token := newAuthToken()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, created_at) VALUES (?, ?, ?)`,
		token, userID, now())
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

// GetUserBySession resolves a bearer token to its user.
func (s *Store) GetUserBySession(ctx context.Context, token string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.name, u.password_hash, u.created_at
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.token = ?`, token)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session user: %w", err)
	}
	return u, nil
}
