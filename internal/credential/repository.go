package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = "user_id, provider, access_ciphertext, refresh_ciphertext, expires_at, version, updated_at"

func scanCredential(row pgx.Row) (*Credential, error) {
	var c Credential
	err := row.Scan(&c.UserID, &c.Provider, &c.AccessCiphertext, &c.RefreshCiphertext, &c.ExpiresAt, &c.Version, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed credential repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Upsert stores a user's sealed token pair for a provider, replacing any previous one.
func (r *PGRepository) Upsert(ctx context.Context, params UpsertParams) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO provider_credentials (user_id, provider, access_ciphertext, refresh_ciphertext, expires_at, version, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, provider)
		 DO UPDATE SET access_ciphertext = EXCLUDED.access_ciphertext, refresh_ciphertext = EXCLUDED.refresh_ciphertext,
		               expires_at = EXCLUDED.expires_at, version = EXCLUDED.version, updated_at = EXCLUDED.updated_at`,
		params.UserID, params.Provider, params.AccessCiphertext, params.RefreshCiphertext, params.ExpiresAt,
		Version, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert provider credential: %w", err)
	}
	return nil
}

// Get returns a user's sealed token pair for a provider.
func (r *PGRepository) Get(ctx context.Context, userID, provider string) (*Credential, error) {
	c, err := scanCredential(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM provider_credentials WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query provider credential: %w", err)
	}
	return c, nil
}

// Delete removes a user's sealed token pair for a provider.
func (r *PGRepository) Delete(ctx context.Context, userID, provider string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM provider_credentials WHERE user_id = $1 AND provider = $2`, userID, provider,
	)
	if err != nil {
		return fmt.Errorf("delete provider credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
