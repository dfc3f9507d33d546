// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// MinPasswordLength is the minimum accepted plaintext password length.
const MinPasswordLength = 8

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// emailRegex is a light shape check. The boundary layer performs full
// format validation; this only guards against constructing obviously
// broken records.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)

// User is the canonical account record.
//
// Invariant: OTP and OTPExpiresAt are both set or both nil, never one
// without the other. SetOTP and ClearOTP preserve this.
// Invariant: once EmailVerifiedAt is non-nil it is never cleared.
type User struct {
	ID           ulid.ULID
	Email        string
	Username     string
	FirstName    string
	LastName     string
	PhoneNumber  string
	Address      string
	ReferralCode *string
	PasswordHash string

	EmailVerifiedAt *time.Time
	OTP             *string
	OTPExpiresAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Registration is the pre-validated draft the boundary layer hands to
// Service.Register. Password is plaintext; it is hashed before the record
// is created and never stored.
type Registration struct {
	Email        string
	Username     string
	Password     string
	FirstName    string
	LastName     string
	PhoneNumber  string
	Address      string
	ReferralCode *string
}

// Validate checks the draft against the account rules.
func (r Registration) Validate() error {
	if err := ValidateEmail(r.Email); err != nil {
		return err
	}
	if err := ValidateUsername(r.Username); err != nil {
		return err
	}
	if len(r.Password) < MinPasswordLength {
		return oops.Code("AUTH_INVALID_PASSWORD").
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// NewUser creates a validated User from a registration draft and a
// precomputed password hash. The new record is unverified and carries no
// pending OTP.
func NewUser(reg Registration, passwordHash string) (*User, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &User{
		ID:           ulid.Make(),
		Email:        strings.ToLower(reg.Email),
		Username:     reg.Username,
		FirstName:    reg.FirstName,
		LastName:     reg.LastName,
		PhoneNumber:  reg.PhoneNumber,
		Address:      reg.Address,
		ReferralCode: reg.ReferralCode,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsEmailVerified reports whether the account completed email verification.
func (u *User) IsEmailVerified() bool {
	return u.EmailVerifiedAt != nil
}

// MarkEmailVerified records the verification timestamp. A previously
// recorded timestamp is kept; verification is never re-dated or cleared.
func (u *User) MarkEmailVerified(now time.Time) {
	if u.EmailVerifiedAt != nil {
		return
	}
	t := now
	u.EmailVerifiedAt = &t
	u.UpdatedAt = now
}

// SetOTP attaches a pending OTP, replacing any prior one. Replacement makes
// the previous code permanently unusable.
func (u *User) SetOTP(code string, expiresAt time.Time) {
	c := code
	t := expiresAt
	u.OTP = &c
	u.OTPExpiresAt = &t
	u.UpdatedAt = time.Now()
}

// ClearOTP removes the pending OTP and its expiry together.
func (u *User) ClearOTP() {
	u.OTP = nil
	u.OTPExpiresAt = nil
	u.UpdatedAt = time.Now()
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("AUTH_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// ValidateEmail checks that the address is plausibly shaped.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return oops.Code("AUTH_INVALID_EMAIL").
			With("email", email).
			Errorf("email address is malformed")
	}
	return nil
}

// UserRepository is the credential store. It exclusively owns the canonical
// User record; services hold no copies across calls.
type UserRepository interface {
	// Create stores a new user. The duplicate-email check and the insert
	// are atomic with respect to concurrent Create calls for the same
	// email; a conflict wraps ErrDuplicateEmail.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	// Returns ErrNotFound if no user has the given email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Save replaces the mutable fields (password hash, verification
	// timestamp, OTP pair, profile) keyed by id. Callers must have
	// re-read the record immediately before mutating it.
	Save(ctx context.Context, user *User) error

	// Mutate runs fn against the current record for email inside one
	// atomic fetch-mutate-persist unit of work. The record is locked for
	// the duration, serializing concurrent mutations for the same user.
	// An error from fn aborts the write and is returned unchanged.
	Mutate(ctx context.Context, email string, fn func(*User) error) error
}
