// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/otpgate/otpgate/pkg/errutil"
)

// Policy carries the account rules that vary by deployment.
type Policy struct {
	// RequireVerifiedEmail rejects logins from accounts that have not
	// completed email verification. Off by default, matching the
	// behavior this service replaced.
	RequireVerifiedEmail bool
}

// Service orchestrates registration, login, and the OTP-gated flows.
type Service struct {
	users     UserRepository
	challenge *Challenge
	hasher    PasswordHasher
	notifier  Notifier
	tokens    TokenIssuer
	policy    Policy
	logger    *slog.Logger
}

// NewService creates a Service with the default logger.
func NewService(users UserRepository, hasher PasswordHasher, notifier Notifier, tokens TokenIssuer, policy Policy) (*Service, error) {
	return NewServiceWithLogger(users, hasher, notifier, tokens, policy, slog.Default())
}

// NewServiceWithLogger creates a Service with an explicit logger.
func NewServiceWithLogger(users UserRepository, hasher PasswordHasher, notifier Notifier, tokens TokenIssuer, policy Policy, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("password hasher is required")
	}
	if notifier == nil {
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("notifier is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("token issuer is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("logger is required")
	}

	challenge, err := NewChallenge(users)
	if err != nil {
		return nil, err
	}

	return &Service{
		users:     users,
		challenge: challenge,
		hasher:    hasher,
		notifier:  notifier,
		tokens:    tokens,
		policy:    policy,
		logger:    logger,
	}, nil
}

// dummyPasswordHash is verified against when a login names an unknown
// email, so that response time does not reveal whether the account exists.
// This is NOT a real credential; it can never match any password.
//
//nolint:gosec // G101: intentionally fake hash for timing equalization, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Register creates an account from a pre-validated draft, then issues a
// verification OTP and notifies the new address. A duplicate email fails
// before any OTP is issued or notification sent.
func (s *Service) Register(ctx context.Context, reg Registration) (*User, error) {
	hash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(reg, hash)
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, oops.Code("AUTH_DUPLICATE_EMAIL").
				With("email", user.Email).
				Wrap(err)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	code, _, err := s.challenge.Issue(ctx, user.Email)
	if err != nil {
		// The account exists; the caller can request a fresh code.
		return nil, err
	}
	s.sendOTP(ctx, user.Email, code, PurposeVerifyEmail)

	s.logger.Info("user registered",
		"user_id", user.ID.String(),
		"username", user.Username,
	)
	return user, nil
}

// Login authenticates by email and password and returns a session token.
// Unknown email and wrong password produce the identical failure: same
// kind, same message. Password verification always runs, against a dummy
// hash when the account does not exist, to keep response time uniform.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	user, lookupErr := s.users.GetByEmail(ctx, email)

	targetHash := dummyPasswordHash
	userExists := false
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
		userExists = true
	case errors.Is(lookupErr, ErrNotFound):
		// Fall through to dummy verification.
	default:
		return "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get user by email").
			Wrap(lookupErr)
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil && userExists {
		return "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if !userExists || !valid {
		return "", oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	if s.policy.RequireVerifiedEmail && !user.IsEmailVerified() {
		return "", oops.Code("AUTH_EMAIL_UNVERIFIED").
			With("user_id", user.ID.String()).
			Wrap(ErrEmailNotVerified)
	}

	// Recompute hashes from older schemes on successful login. Login
	// succeeds even if the rewrite fails.
	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
			user.PasswordHash = newHash
			_ = s.users.Save(ctx, user) //nolint:errcheck // Best effort
		}
	}

	token, err := s.tokens.Issue(user.ID, time.Now())
	if err != nil {
		return "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue token").
			Wrap(err)
	}

	s.logger.Info("user logged in", "user_id", user.ID.String())
	return token, nil
}

// RequestEmailVerification re-issues a verification OTP for an existing
// account, for when the registration email was lost.
func (s *Service) RequestEmailVerification(ctx context.Context, email string) error {
	return s.requestOTP(ctx, email, PurposeVerifyEmail)
}

// RequestPasswordReset issues a password-reset OTP and notifies.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	return s.requestOTP(ctx, email, PurposeResetPassword)
}

func (s *Service) requestOTP(ctx context.Context, email string, purpose Purpose) error {
	code, expiresAt, err := s.challenge.Issue(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_USER_NOT_FOUND").
				With("purpose", string(purpose)).
				Wrap(err)
		}
		return err
	}
	s.sendOTP(ctx, email, code, purpose)

	s.logger.Info("otp issued",
		"email", email,
		"purpose", string(purpose),
		"expires_at", expiresAt,
	)
	return nil
}

// VerifyOTP consumes the pending code and marks the email verified. The
// consume check, the verification timestamp, and the OTP clear are applied
// in one atomic unit of work, so a stale or replayed code can never leave
// a half-applied transition.
func (s *Service) VerifyOTP(ctx context.Context, email, code string) error {
	now := time.Now()
	err := s.users.Mutate(ctx, email, func(user *User) error {
		if err := s.challenge.Consume(user, code, now); err != nil {
			return err
		}
		user.MarkEmailVerified(now)
		user.ClearOTP()
		return nil
	})
	if err != nil {
		return s.wrapConsumeErr(err, "AUTH_VERIFY_FAILED")
	}

	s.logger.Info("email verified", "email", email)
	return nil
}

// ResetPassword consumes the pending code and installs the new password.
// Hash replacement and OTP clear land in the same write.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return oops.Code("AUTH_INVALID_PASSWORD").
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}

	// Hash outside the unit of work; argon2 is deliberately slow and the
	// row lock should not be held for it.
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_RESET_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	now := time.Now()
	err = s.users.Mutate(ctx, email, func(user *User) error {
		if err := s.challenge.Consume(user, code, now); err != nil {
			return err
		}
		user.PasswordHash = hash
		user.ClearOTP()
		return nil
	})
	if err != nil {
		return s.wrapConsumeErr(err, "AUTH_RESET_FAILED")
	}

	s.logger.Info("password reset", "email", email)
	return nil
}

// wrapConsumeErr passes through the taxonomy errors from a consume unit of
// work untouched and wraps everything else as a storage failure.
func (s *Service) wrapConsumeErr(err error, code string) error {
	switch {
	case errors.Is(err, ErrOTPExpired), errors.Is(err, ErrOTPInvalid):
		return err
	case errors.Is(err, ErrNotFound):
		return oops.Code("AUTH_USER_NOT_FOUND").Wrap(err)
	default:
		return oops.Code(code).With("operation", "mutate user").Wrap(err)
	}
}

// sendOTP delivers the code best-effort. Failures are logged, never
// surfaced: the OTP is already persisted and can be re-requested.
func (s *Service) sendOTP(ctx context.Context, email, code string, purpose Purpose) {
	if err := s.notifier.SendOTP(ctx, email, code, purpose); err != nil {
		errutil.LogError(s.logger, "failed to send otp notification", err)
	}
}
