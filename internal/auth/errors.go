// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

package auth

import "errors"

// Sentinel errors forming the failure taxonomy of the auth core. Services
// wrap these with oops codes for structured context; callers branch with
// errors.Is.
var (
	// ErrNotFound is returned when no user exists for the given identifier.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned when registering an email that is
	// already taken.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidCredentials is returned on login failure. It deliberately
	// does not distinguish an unknown email from a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailNotVerified is returned by Login when the verified-email
	// policy is enabled and the account has not completed verification.
	ErrEmailNotVerified = errors.New("email not verified")

	// ErrOTPInvalid is returned when the supplied code does not match the
	// pending OTP.
	ErrOTPInvalid = errors.New("otp does not match")

	// ErrOTPExpired is returned when the pending OTP is past its expiry,
	// or no OTP was ever issued.
	ErrOTPExpired = errors.New("otp expired")
)
