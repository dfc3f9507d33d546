// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

// Package postgres provides PostgreSQL implementations of the auth
// repositories.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/otpgate/otpgate/internal/auth"
)

// DB is the subset of pgxpool.Pool the repository needs. pgxmock satisfies
// it too, which keeps the unit tests off a live database.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, username, first_name, last_name, phone_number,
	       address, referral_code, password_hash, email_verified_at,
	       otp, otp_expires_at, created_at, updated_at`

// Create stores a new user. The email uniqueness check rides on the
// database constraint, so concurrent registrations for one address cannot
// both succeed.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (
			id, email, username, first_name, last_name, phone_number,
			address, referral_code, password_hash, email_verified_at,
			otp, otp_expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		user.ID.String(),
		user.Email,
		user.Username,
		user.FirstName,
		user.LastName,
		user.PhoneNumber,
		user.Address,
		user.ReferralCode,
		user.PasswordHash,
		user.EmailVerifiedAt,
		user.OTP,
		user.OTPExpiresAt,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("USER_DUPLICATE_EMAIL").
				With("email", user.Email).
				With("constraint", pgErr.ConstraintName).
				Wrap(auth.ErrDuplicateEmail)
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("email", user.Email).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			With("email", email).
			Wrap(err)
	}
	return user, nil
}

// Save replaces the mutable fields keyed by id.
func (r *UserRepository) Save(ctx context.Context, user *auth.User) error {
	result, err := r.db.Exec(ctx, updateUserSQL,
		user.ID.String(),
		user.Username,
		user.FirstName,
		user.LastName,
		user.PhoneNumber,
		user.Address,
		user.ReferralCode,
		user.PasswordHash,
		user.EmailVerifiedAt,
		user.OTP,
		user.OTPExpiresAt,
		user.UpdatedAt,
	)
	if err != nil {
		return oops.Code("USER_SAVE_FAILED").
			With("operation", "update user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Mutate runs fn against the row for email inside a transaction holding a
// FOR UPDATE lock, so concurrent units of work for the same user execute
// one after another against each other's committed state. An error from fn
// rolls back and is returned unchanged for the caller to classify.
func (r *UserRepository) Mutate(ctx context.Context, email string, fn func(*auth.User) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return oops.Code("USER_MUTATE_FAILED").
			With("operation", "begin transaction").
			Wrap(err)
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(ctx) //nolint:errcheck // Rollback error is unactionable
	}()

	row := tx.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(email) = LOWER($1)
		FOR UPDATE
	`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code("USER_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return oops.Code("USER_MUTATE_FAILED").
			With("operation", "select user for update").
			With("email", email).
			Wrap(err)
	}

	if err := fn(user); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, updateUserSQL,
		user.ID.String(),
		user.Username,
		user.FirstName,
		user.LastName,
		user.PhoneNumber,
		user.Address,
		user.ReferralCode,
		user.PasswordHash,
		user.EmailVerifiedAt,
		user.OTP,
		user.OTPExpiresAt,
		user.UpdatedAt,
	); err != nil {
		return oops.Code("USER_MUTATE_FAILED").
			With("operation", "update user").
			With("id", user.ID.String()).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("USER_MUTATE_FAILED").
			With("operation", "commit").
			With("id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// updateUserSQL rewrites every mutable field; email and id are immutable.
const updateUserSQL = `
		UPDATE users SET
			username = $2,
			first_name = $3,
			last_name = $4,
			phone_number = $5,
			address = $6,
			referral_code = $7,
			password_hash = $8,
			email_verified_at = $9,
			otp = $10,
			otp_expires_at = $11,
			updated_at = $12
		WHERE id = $1
	`

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr           string
		email           string
		username        string
		firstName       string
		lastName        string
		phoneNumber     string
		address         string
		referralCode    *string
		passwordHash    string
		emailVerifiedAt *time.Time
		otp             *string
		otpExpiresAt    *time.Time
		createdAt       time.Time
		updatedAt       time.Time
	)

	err := row.Scan(
		&idStr,
		&email,
		&username,
		&firstName,
		&lastName,
		&phoneNumber,
		&address,
		&referralCode,
		&passwordHash,
		&emailVerifiedAt,
		&otp,
		&otpExpiresAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}

	return &auth.User{
		ID:              id,
		Email:           email,
		Username:        username,
		FirstName:       firstName,
		LastName:        lastName,
		PhoneNumber:     phoneNumber,
		Address:         address,
		ReferralCode:    referralCode,
		PasswordHash:    passwordHash,
		EmailVerifiedAt: emailVerifiedAt,
		OTP:             otp,
		OTPExpiresAt:    otpExpiresAt,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
