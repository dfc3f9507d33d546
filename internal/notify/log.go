// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

package notify

import (
	"context"
	"log/slog"

	"github.com/otpgate/otpgate/internal/auth"
)

// LogNotifier writes codes to the log instead of delivering them. It backs
// development and test deployments where no SMTP relay is configured.
// Do not use it in production: the OTP is a secret and ends up in the logs.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// SendOTP logs the code and destination.
func (n *LogNotifier) SendOTP(_ context.Context, email, code string, purpose auth.Purpose) error {
	n.logger.Info("otp notification",
		"email", email,
		"code", code,
		"purpose", string(purpose),
	)
	return nil
}

// Compile-time interface check.
var _ auth.Notifier = (*LogNotifier)(nil)
