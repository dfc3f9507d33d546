// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

package notify

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/otpgate/otpgate/internal/auth"
)

// InstrumentedNotifier counts delivery failures per purpose without
// changing the fire-and-forget contract of the wrapped notifier.
type InstrumentedNotifier struct {
	next     auth.Notifier
	failures *prometheus.CounterVec
}

// NewInstrumentedNotifier wraps next with a failure counter labeled by
// purpose.
func NewInstrumentedNotifier(next auth.Notifier, failures *prometheus.CounterVec) *InstrumentedNotifier {
	return &InstrumentedNotifier{next: next, failures: failures}
}

// SendOTP delegates to the wrapped notifier and records failures.
func (n *InstrumentedNotifier) SendOTP(ctx context.Context, email, code string, purpose auth.Purpose) error {
	err := n.next.SendOTP(ctx, email, code, purpose)
	if err != nil && n.failures != nil {
		n.failures.WithLabelValues(string(purpose)).Inc()
	}
	return err
}

// Compile-time interface check.
var _ auth.Notifier = (*InstrumentedNotifier)(nil)
