package sshkey

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = "host_id, fingerprint, public_key, kind, label, expires_at, created_at"

// scanKey scans a single row into a *Key. The row must contain the columns listed in selectColumns.
func scanKey(row pgx.Row) (*Key, error) {
	var k Key
	err := row.Scan(&k.HostID, &k.Fingerprint, &k.PublicKey, &k.Kind, &k.Label, &k.ExpiresAt, &k.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed authorized key repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Upsert records an authorized key. Re-authorizing the same fingerprint on the same host refreshes its label and
// expiry rather than failing.
func (r *PGRepository) Upsert(ctx context.Context, params UpsertParams) (*Key, error) {
	kind := params.Kind
	if kind == "" {
		kind = KindUser
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO authorized_keys (host_id, fingerprint, public_key, kind, label, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (host_id, fingerprint)
		 DO UPDATE SET public_key = EXCLUDED.public_key, kind = EXCLUDED.kind, label = EXCLUDED.label,
		               expires_at = EXCLUDED.expires_at
		 RETURNING `+selectColumns,
		params.HostID, params.Fingerprint, params.PublicKey, kind, params.Label, params.ExpiresAt, time.Now().Unix(),
	)
	k, err := scanKey(row)
	if err != nil {
		return nil, fmt.Errorf("upsert authorized key: %w", err)
	}
	return k, nil
}

// Delete removes an authorized key by fingerprint.
func (r *PGRepository) Delete(ctx context.Context, hostID, fingerprint string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM authorized_keys WHERE host_id = $1 AND fingerprint = $2`,
		hostID, fingerprint,
	)
	if err != nil {
		return fmt.Errorf("delete authorized key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByHost returns the host's authorized keys, newest first.
func (r *PGRepository) ListByHost(ctx context.Context, hostID string) ([]Key, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM authorized_keys WHERE host_id = $1 ORDER BY created_at DESC, fingerprint`,
		hostID,
	)
	if err != nil {
		return nil, fmt.Errorf("query authorized keys: %w", err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan authorized key: %w", err)
		}
		keys = append(keys, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate authorized keys: %w", err)
	}
	return keys, nil
}
