package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/vibecode-sh/vibecode-server/internal/postgres"
)

const selectColumns = "id, host_id, auth_token_hash, version, connected, last_seen, created_at"

// scanGateway scans a single row into a *Gateway. The row must contain the columns listed in selectColumns.
func scanGateway(row pgx.Row) (*Gateway, error) {
	var g Gateway
	err := row.Scan(&g.ID, &g.HostID, &g.AuthTokenHash, &g.Version, &g.Connected, &g.LastSeen, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed gateway repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new gateway row for a host.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Gateway, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO gateways (id, host_id, auth_token_hash, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+selectColumns,
		params.ID, params.HostID, params.AuthTokenHash, time.Now().Unix(),
	)
	g, err := scanGateway(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert gateway: %w", err)
	}
	return g, nil
}

// GetByID returns the gateway matching the given id.
func (r *PGRepository) GetByID(ctx context.Context, id string) (*Gateway, error) {
	g, err := scanGateway(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM gateways WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query gateway by id: %w", err)
	}
	return g, nil
}

// GetByHost returns the gateway belonging to the given host.
func (r *PGRepository) GetByHost(ctx context.Context, hostID string) (*Gateway, error) {
	g, err := scanGateway(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM gateways WHERE host_id = $1`, hostID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query gateway by host: %w", err)
	}
	return g, nil
}

// UpdateConnected flips the connected flag and stamps last_seen in the same write.
func (r *PGRepository) UpdateConnected(ctx context.Context, id string, connected bool, at int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE gateways SET connected = $2, last_seen = $3 WHERE id = $1`,
		id, connected, at,
	)
	if err != nil {
		return fmt.Errorf("update gateway connected: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTokenHash rotates the stored token MAC. Used when a bootstrap token is redeemed, so the credential printed at
// attach time stops working the moment the daemon claims its own.
func (r *PGRepository) UpdateTokenHash(ctx context.Context, id, tokenHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE gateways SET auth_token_hash = $2 WHERE id = $1`,
		id, tokenHash,
	)
	if err != nil {
		return fmt.Errorf("update gateway token hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateVersion records the daemon version reported in the hello event.
func (r *PGRepository) UpdateVersion(ctx context.Context, id, version string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE gateways SET version = $2 WHERE id = $1`,
		id, version,
	)
	if err != nil {
		return fmt.Errorf("update gateway version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastSeen stamps the gateway's liveness from a health event.
func (r *PGRepository) UpdateLastSeen(ctx context.Context, id string, at int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE gateways SET last_seen = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("update gateway last seen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
