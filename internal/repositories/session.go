package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/genx/internal/auth"
)

var _ auth.Store = (*SessionRepository)(nil)

// SessionRepository mirrors session values into the sessions table, one namespace per profile.
//
// It implements [auth.Store]; a missing key reads as "".
type SessionRepository struct {
	db      *sql.DB
	profile string
}

// NewSessionRepository scopes session storage to profile, "default" when empty.
func NewSessionRepository(db *sql.DB, profile string) *SessionRepository {
	if profile == "" {
		profile = "default"
	}
	return &SessionRepository{db: db, profile: profile}
}

func (r *SessionRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM sessions WHERE profile = ? AND key = ?`, r.profile, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session %s: %w", key, err)
	}
	return value, nil
}

func (r *SessionRepository) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO sessions (profile, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(profile, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, r.profile, key, value, time.Now()); err != nil {
		return fmt.Errorf("failed to write session %s: %w", key, err)
	}
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE profile = ? AND key = ?`, r.profile, key); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return nil
}

// Profiles lists every profile holding at least one session value.
func (r *SessionRepository) Profiles(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT profile FROM sessions ORDER BY profile`)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}
