// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

package auth

import "context"

// Notifier delivers an issued OTP to the account's email address. Delivery
// is best-effort: the auth service logs a failure but never surfaces it to
// its caller (a production deployment would queue and retry behind this
// interface).
type Notifier interface {
	SendOTP(ctx context.Context, email, code string, purpose Purpose) error
}
