package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = "id, host_id, user_id, title, agent_type, workdir, status, created_at, last_activity_at"

// scanSession scans a single row into a *Session. The row must contain the columns listed in selectColumns.
func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.HostID, &s.UserID, &s.Title, &s.AgentType, &s.Workdir, &s.Status, &s.CreatedAt, &s.LastActivityAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed session repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new session in the starting state. An empty workdir falls back to DefaultWorkdir.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Session, error) {
	workdir := params.Workdir
	if workdir == "" {
		workdir = DefaultWorkdir
	}

	now := time.Now().Unix()
	row := r.db.QueryRow(ctx,
		`INSERT INTO sessions (id, host_id, user_id, title, agent_type, workdir, status, created_at, last_activity_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 RETURNING `+selectColumns,
		params.ID, params.HostID, params.UserID, params.Title, params.AgentType, workdir, StatusStarting, now,
	)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// GetByID returns the session matching the given id.
func (r *PGRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query session by id: %w", err)
	}
	return s, nil
}

// ListByHost returns the host's sessions, newest first.
func (r *PGRepository) ListByHost(ctx context.Context, hostID string) ([]Session, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM sessions WHERE host_id = $1 ORDER BY created_at DESC, id`, hostID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions by host: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// UpdateStatus moves the session to the given status and touches activity.
func (r *PGRepository) UpdateStatus(ctx context.Context, id string, to Status) error {
	if !ValidStatus(to) {
		return ErrInvalidStatus
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE sessions SET status = $2, last_activity_at = $3 WHERE id = $1`,
		id, to, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchActivity stamps the session's last activity time.
func (r *PGRepository) TouchActivity(ctx context.Context, id string, at int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE sessions SET last_activity_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("touch session activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EndAllForHost marks every non-terminal session on the host as ended. Used when the host goes away rather than the
// sessions ending one by one.
func (r *PGRepository) EndAllForHost(ctx context.Context, hostID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE sessions SET status = $2, last_activity_at = $3
		 WHERE host_id = $1 AND status IN ($4, $5)`,
		hostID, StatusEnded, time.Now().Unix(), StatusStarting, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("end sessions for host: %w", err)
	}
	return nil
}
