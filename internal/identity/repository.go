package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/vibecode-sh/vibecode-server/internal/ids"
	"github.com/vibecode-sh/vibecode-server/internal/postgres"
)

const selectColumns = "id, display_name, created_at"

// scanUser scans a single row into a *User. The row must contain the columns listed in selectColumns.
func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.DisplayName, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed identity repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// GetUser returns the user matching the given id.
func (r *PGRepository) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user by id: %w", err)
	}
	return u, nil
}

// Resolve maps a completed OAuth sign-in onto a user account inside a single transaction. It creates the user and
// both identity links on first sign-in, attaches the missing link when only one exists, and refuses with
// ErrIdentityConflict when the email and the provider subject already belong to different users. A conflicting
// sign-in writes nothing.
func (r *PGRepository) Resolve(ctx context.Context, params ResolveParams) (*User, error) {
	if params.Provider == "" || params.ProviderUserID == "" {
		return nil, ErrProviderRequired
	}
	email := NormalizeEmail(params.Email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	var user *User
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var authUserID string
		err := tx.QueryRow(ctx,
			`SELECT user_id FROM auth_identities WHERE provider = $1 AND provider_user_id = $2`,
			params.Provider, params.ProviderUserID,
		).Scan(&authUserID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("query auth identity: %w", err)
		}

		var emailUserID string
		err = tx.QueryRow(ctx,
			`SELECT user_id FROM email_identities WHERE email = $1`,
			email,
		).Scan(&emailUserID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("query email identity: %w", err)
		}

		action, err := resolveOutcome(emailUserID, authUserID)
		if err != nil {
			return err
		}

		now := time.Now().Unix()
		var userID string

		switch action {
		case actionCreateAll:
			userID = ids.NewUserID()
			_, err = tx.Exec(ctx,
				`INSERT INTO users (id, display_name, created_at) VALUES ($1, $2, $3)`,
				userID, params.DisplayName, now,
			)
			if err != nil {
				return fmt.Errorf("insert user: %w", err)
			}
			if err := insertEmailIdentity(ctx, tx, email, userID, now); err != nil {
				return err
			}
			if err := insertAuthIdentity(ctx, tx, params.Provider, params.ProviderUserID, userID, now); err != nil {
				return err
			}

		case actionUseAuthUser:
			userID = authUserID
			if err := insertEmailIdentity(ctx, tx, email, userID, now); err != nil {
				return err
			}

		case actionUseEmailUser:
			userID = emailUserID
			if err := insertAuthIdentity(ctx, tx, params.Provider, params.ProviderUserID, userID, now); err != nil {
				return err
			}

		case actionUseExisting:
			userID = authUserID
		}

		user, err = scanUser(tx.QueryRow(ctx, `SELECT `+selectColumns+` FROM users WHERE id = $1`, userID))
		if err != nil {
			return fmt.Errorf("query resolved user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// insertEmailIdentity links an email to a user. A unique violation means another transaction linked the address to a
// different user between our read and this write, which is the same conflict resolveOutcome guards against.
func insertEmailIdentity(ctx context.Context, tx pgx.Tx, email, userID string, now int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO email_identities (email, user_id, created_at) VALUES ($1, $2, $3)`,
		email, userID, now,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrIdentityConflict
		}
		return fmt.Errorf("insert email identity: %w", err)
	}
	return nil
}

func insertAuthIdentity(ctx context.Context, tx pgx.Tx, provider, providerUserID, userID string, now int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO auth_identities (provider, provider_user_id, user_id, created_at) VALUES ($1, $2, $3, $4)`,
		provider, providerUserID, userID, now,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrIdentityConflict
		}
		return fmt.Errorf("insert auth identity: %w", err)
	}
	return nil
}
