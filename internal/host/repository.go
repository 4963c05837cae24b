package host

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

// selectColumns lists the columns returned by queries that produce a *Host. Every method that scans into a Host must
// select these columns in this exact order.
const selectColumns = "id, user_id, name, status, region, size, droplet_id, ipv4, deadline, created_at, updated_at"

// scanHost scans a single row into a *Host. The row must contain the columns listed in selectColumns.
func scanHost(row pgx.Row) (*Host, error) {
	var h Host
	err := row.Scan(
		&h.ID, &h.UserID, &h.Name, &h.Status, &h.Region, &h.Size,
		&h.DropletID, &h.IPv4, &h.Deadline, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed host repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new host in the provisioning state.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Host, error) {
	now := time.Now().Unix()
	row := r.db.QueryRow(ctx,
		`INSERT INTO hosts (id, user_id, name, status, region, size, deadline, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 RETURNING `+selectColumns,
		params.ID, params.UserID, params.Name, StatusProvisioning, params.Region, params.Size, params.Deadline, now,
	)
	h, err := scanHost(row)
	if err != nil {
		return nil, fmt.Errorf("insert host: %w", err)
	}
	return h, nil
}

// GetByID returns the host matching the given id.
func (r *PGRepository) GetByID(ctx context.Context, id string) (*Host, error) {
	h, err := scanHost(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM hosts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query host by id: %w", err)
	}
	return h, nil
}

// ListByUser returns the user's hosts, newest first.
func (r *PGRepository) ListByUser(ctx context.Context, userID string) ([]Host, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM hosts WHERE user_id = $1 ORDER BY created_at DESC, id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query hosts by user: %w", err)
	}
	defer rows.Close()

	return collectHosts(rows)
}

// UpdateStatus unconditionally moves the host to the given status.
func (r *PGRepository) UpdateStatus(ctx context.Context, id string, to Status) error {
	if !ValidStatus(to) {
		return ErrInvalidStatus
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE hosts SET status = $2, updated_at = $3 WHERE id = $1`,
		id, to, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("update host status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatusFrom moves the host to the given status only when it is currently in the from status. It reports
// whether the transition happened; a false return with nil error means the host was in some other state.
func (r *PGRepository) UpdateStatusFrom(ctx context.Context, id string, from, to Status) (bool, error) {
	if !ValidStatus(from) || !ValidStatus(to) {
		return false, ErrInvalidStatus
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE hosts SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, from, to, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("update host status from %s: %w", from, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateIPv4 records the host's public IPv4 address.
func (r *PGRepository) UpdateIPv4(ctx context.Context, id, ipv4 string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE hosts SET ipv4 = $2, updated_at = $3 WHERE id = $1`,
		id, ipv4, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("update host ipv4: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDropletID records the cloud droplet backing the host.
func (r *PGRepository) UpdateDropletID(ctx context.Context, id string, dropletID int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE hosts SET droplet_id = $2, updated_at = $3 WHERE id = $1`,
		id, dropletID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("update host droplet id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCascade removes the host and every dependent row in one transaction. Children go first so the explicit order
// holds even if a future migration drops the FK cascade: keys, then sessions, then the gateway, then the host itself.
func (r *PGRepository) DeleteCascade(ctx context.Context, id string) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		steps := []struct {
			name  string
			query string
		}{
			{"authorized keys", `DELETE FROM authorized_keys WHERE host_id = $1`},
			{"sessions", `DELETE FROM sessions WHERE host_id = $1`},
			{"gateways", `DELETE FROM gateways WHERE host_id = $1`},
		}
		for _, step := range steps {
			if _, err := tx.Exec(ctx, step.query, id); err != nil {
				return fmt.Errorf("cascade delete %s: %w", step.name, err)
			}
		}

		tag, err := tx.Exec(ctx, `DELETE FROM hosts WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete host: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListTimedOutProvisioning returns hosts still provisioning past their deadline.
func (r *PGRepository) ListTimedOutProvisioning(ctx context.Context, now int64) ([]Host, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM hosts WHERE status = $1 AND deadline > 0 AND deadline < $2`,
		StatusProvisioning, now,
	)
	if err != nil {
		return nil, fmt.Errorf("query timed out hosts: %w", err)
	}
	defer rows.Close()

	return collectHosts(rows)
}

// ListDeleting returns hosts whose teardown is pending or mid-retry.
func (r *PGRepository) ListDeleting(ctx context.Context) ([]Host, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM hosts WHERE status = $1`, StatusDeleting,
	)
	if err != nil {
		return nil, fmt.Errorf("query deleting hosts: %w", err)
	}
	defer rows.Close()

	return collectHosts(rows)
}

// ListMissingIPv4 returns active or provisioning cloud hosts that have a droplet but no recorded address yet.
func (r *PGRepository) ListMissingIPv4(ctx context.Context) ([]Host, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM hosts
		 WHERE ipv4 = '' AND droplet_id > 0 AND status IN ($1, $2)`,
		StatusProvisioning, StatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("query hosts missing ipv4: %w", err)
	}
	defer rows.Close()

	return collectHosts(rows)
}

func collectHosts(rows pgx.Rows) ([]Host, error) {
	var hosts []Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		hosts = append(hosts, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hosts: %w", err)
	}
	return hosts, nil
}
