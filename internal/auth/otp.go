// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"math/big"
	"strconv"
	"time"

	"github.com/samber/oops"
)

// OTP configuration.
const (
	// OTPDigits is the code width. Codes are drawn from [OTPMin, OTPMax],
	// so every code is exactly six digits with no leading zero; this is a
	// deliberate range choice, not zero-padding.
	OTPDigits = 6
	OTPMin    = 100000
	OTPMax    = 999999

	// OTPValidity is how long an issued code stays consumable.
	OTPValidity = 10 * time.Minute
)

// Purpose is the logical reason an OTP was issued. It is not persisted;
// the boundary layer encodes it by which endpoint it calls next, and the
// core uses it only for notification wording and logging.
type Purpose string

// OTP purposes.
const (
	PurposeVerifyEmail   Purpose = "verify-email"
	PurposeResetPassword Purpose = "reset-password"
)

// GenerateOTP draws a uniformly random code from [OTPMin, OTPMax].
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(OTPMax-OTPMin+1))
	if err != nil {
		return "", oops.Code("OTP_GENERATE_FAILED").
			With("operation", "crypto/rand.Int").
			Wrap(err)
	}
	return strconv.FormatInt(n.Int64()+OTPMin, 10), nil
}

// Challenge drives issuance and one-shot verification of an OTP against a
// User record. It caches no state of its own: the repository-backed User
// fields (OTP, OTPExpiresAt) are the whole state machine.
//
// Projected onto those fields, a user moves through:
//
//	NoChallenge (both nil)
//	  --Issue--> Pending (both set, now before expiry)
//	  Pending --Consume ok + caller ClearOTP--> NoChallenge
//	  Pending --time passes--> Expired (fields remain until the next
//	            Issue or explicit clear; consumption treats it as absent)
//
// There is no terminal state; every flow can re-enter via a new Issue.
type Challenge struct {
	users UserRepository
}

// NewChallenge creates a Challenge backed by the given repository.
func NewChallenge(users UserRepository) (*Challenge, error) {
	if users == nil {
		return nil, oops.Code("OTP_INVALID_DEPS").Errorf("user repository is required")
	}
	return &Challenge{users: users}, nil
}

// Issue attaches a fresh code with a ten-minute expiry to the account's
// record and persists it. The write runs inside the repository's Mutate
// unit of work: the OTP fields are set on the locked, freshly read record,
// so issuance can never rewrite a verification or password reset that
// committed in between. Re-issuing while a prior code is still valid
// silently overwrites it; the prior code becomes permanently unusable.
// Returns the plaintext code for the caller to hand to the notifier.
func (c *Challenge) Issue(ctx context.Context, email string) (code string, expiresAt time.Time, err error) {
	code, err = GenerateOTP()
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt = time.Now().Add(OTPValidity)
	err = c.users.Mutate(ctx, email, func(user *User) error {
		user.SetOTP(code, expiresAt)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Unchanged for the caller to classify.
			return "", time.Time{}, err
		}
		return "", time.Time{}, oops.Code("OTP_ISSUE_FAILED").
			With("operation", "mutate user").
			With("email", email).
			Wrap(err)
	}
	return code, expiresAt, nil
}

// Consume validates suppliedCode against the user's pending OTP at the
// given instant. It is validate-only: on success the caller clears the OTP
// fields as part of the state transition the success triggers (marking
// verified, accepting a new password) so that both land in one write.
//
// Returns ErrOTPExpired when no expiry is set or now is at or past it,
// ErrOTPInvalid when no code is set or the codes differ. The comparison is
// constant-time.
func (c *Challenge) Consume(user *User, suppliedCode string, now time.Time) error {
	if user.OTPExpiresAt == nil || !now.Before(*user.OTPExpiresAt) {
		return oops.Code("OTP_EXPIRED").
			With("user_id", user.ID.String()).
			Wrap(ErrOTPExpired)
	}
	if user.OTP == nil || subtle.ConstantTimeCompare([]byte(*user.OTP), []byte(suppliedCode)) != 1 {
		return oops.Code("OTP_INVALID").
			With("user_id", user.ID.String()).
			Wrap(ErrOTPInvalid)
	}
	return nil
}
