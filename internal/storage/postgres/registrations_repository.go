package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/makemelearn/api/internal/domain/registrations"
)

const registrationColumns = `id, email, source, metadata, verification_token, is_verified, created_at, updated_at, unsubscribed_at`

// RegistrationRepository implements registrations.Repository.
type RegistrationRepository struct {
	db *DB
	q  Querier
}

func NewRegistrationRepository(db *DB) *RegistrationRepository {
	return &RegistrationRepository{db: db, q: db}
}

func (r *RegistrationRepository) WithTx(ctx context.Context, fn func(ctx context.Context, repo registrations.Repository) error) error {
	if _, inTx := r.q.(*txQuerier); inTx {
		return fn(ctx, r)
	}
	return r.db.WithTx(ctx, func(ctx context.Context, q Querier) error {
		return fn(ctx, &RegistrationRepository{db: r.db, q: q})
	})
}

func (r *RegistrationRepository) FindByEmail(ctx context.Context, email string, lock bool) (*registrations.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE email = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	reg, err := scanRegistration(r.q.QueryRow(ctx, query, email))
	if err != nil {
		return nil, fmt.Errorf("find registration by email: %w", err)
	}
	return reg, nil
}

func (r *RegistrationRepository) Insert(ctx context.Context, p registrations.NewRegistration) (*registrations.Registration, error) {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	reg, err := scanRegistration(r.q.QueryRow(ctx, `
INSERT INTO registrations (email, source, metadata, verification_token)
VALUES ($1, $2, $3, $4)
RETURNING `+registrationColumns,
		p.Email, string(p.Source), metadata, p.VerificationToken,
	))
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, fmt.Errorf("insert registration: %w: %w", registrations.ErrEmailTaken, err)
		}
		return nil, fmt.Errorf("insert registration: %w", err)
	}
	return reg, nil
}

func (r *RegistrationRepository) RotateToken(ctx context.Context, id uuid.UUID, token uuid.UUID) (*registrations.Registration, error) {
	reg, err := scanRegistration(r.q.QueryRow(ctx, `
UPDATE registrations
   SET verification_token = $2
 WHERE id = $1
   AND is_verified = FALSE
   AND unsubscribed_at IS NULL
RETURNING `+registrationColumns,
		id, token,
	))
	if err != nil {
		return nil, fmt.Errorf("rotate verification token: %w", err)
	}
	return reg, nil
}

func (r *RegistrationRepository) ConsumeToken(ctx context.Context, token uuid.UUID) (*registrations.Registration, error) {
	reg, err := scanRegistration(r.q.QueryRow(ctx, `
UPDATE registrations
   SET is_verified = TRUE,
       verification_token = NULL
 WHERE verification_token = $1
   AND is_verified = FALSE
   AND unsubscribed_at IS NULL
RETURNING `+registrationColumns,
		token,
	))
	if err != nil {
		return nil, fmt.Errorf("consume verification token: %w", err)
	}
	return reg, nil
}

func (r *RegistrationRepository) Unsubscribe(ctx context.Context, email string) (*registrations.Registration, error) {
	reg, err := scanRegistration(r.q.QueryRow(ctx, `
UPDATE registrations
   SET unsubscribed_at = NOW(),
       verification_token = NULL
 WHERE email = $1
   AND unsubscribed_at IS NULL
RETURNING `+registrationColumns,
		email,
	))
	if err != nil {
		return nil, fmt.Errorf("unsubscribe registration: %w", err)
	}
	return reg, nil
}

func scanRegistration(row pgx.Row) (*registrations.Registration, error) {
	var (
		reg      registrations.Registration
		source   string
		metadata []byte
		token    *uuid.UUID
		unsubAt  *time.Time
	)
	if err := row.Scan(
		&reg.ID,
		&reg.Email,
		&source,
		&metadata,
		&token,
		&reg.IsVerified,
		&reg.CreatedAt,
		&reg.UpdatedAt,
		&unsubAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, registrations.ErrNotFound
		}
		return nil, err
	}

	reg.Source = registrations.Source(source)
	reg.VerificationToken = token
	reg.UnsubscribedAt = unsubAt
	reg.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &reg.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &reg, nil
}
