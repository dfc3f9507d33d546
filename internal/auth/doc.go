// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

// Package auth implements the account lifecycle core of OTPGate.
//
// # Domain Types
//
// User is the canonical credential record. It owns the password hash, the
// email verification timestamp, and the single pending one-time passcode
// (OTP) with its expiry. Users should be created through NewUser, which
// validates the registration draft; direct struct initialization bypasses
// validation and may create invalid state.
//
// # Services
//
// Service orchestrates registration, login, and the two OTP-gated flows
// (email verification and password reset) by composing a UserRepository,
// an OTP Challenge, a PasswordHasher, a TokenIssuer, and a Notifier.
// The repository is the single source of truth: every operation acts on a
// freshly fetched record and persists all of its field mutations in one
// write, so a half-applied transition is never observable.
//
// Services are created with New*Service constructors that validate
// dependencies.
package auth
