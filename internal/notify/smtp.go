// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

// Package notify delivers issued OTPs to account email addresses.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/samber/oops"

	"github.com/otpgate/otpgate/internal/auth"
)

// SMTPConfig configures the SMTP notifier.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	AppName  string
}

// sendFunc matches smtp.SendMail, injectable for tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier implements auth.Notifier over plain SMTP.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send sendFunc
}

// NewSMTPNotifier creates an SMTPNotifier. Host, port, and from address
// are required.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, oops.Code("NOTIFY_INVALID_CONFIG").Errorf("smtp host and port are required")
	}
	if cfg.From == "" {
		return nil, oops.Code("NOTIFY_INVALID_CONFIG").Errorf("smtp from address is required")
	}
	if cfg.AppName == "" {
		cfg.AppName = "OTPGate"
	}
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail}, nil
}

// SendOTP delivers the code with a subject and body matched to the purpose.
func (n *SMTPNotifier) SendOTP(ctx context.Context, email, code string, purpose auth.Purpose) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").Wrap(err)
	}

	msg := buildMessage(n.cfg.From, email, n.cfg.AppName, code, purpose)

	var a smtp.Auth
	if n.cfg.User != "" {
		a = smtp.PlainAuth("", n.cfg.User, n.cfg.Password, n.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	if err := n.send(addr, a, n.cfg.From, []string{email}, msg); err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").
			With("operation", "smtp send").
			With("purpose", string(purpose)).
			Wrap(err)
	}
	return nil
}

// buildMessage assembles an RFC 822 message. Header lines are joined with
// CRLF, with a blank line before the body.
func buildMessage(from, to, appName, code string, purpose auth.Purpose) []byte {
	var subject, intro string
	switch purpose {
	case auth.PurposeResetPassword:
		subject = fmt.Sprintf("%s - Your Password Reset Code", appName)
		intro = "We received a request to reset your password. Use the code below to continue:"
	default:
		subject = fmt.Sprintf("%s - Verify Your Email Address", appName)
		intro = "Thank you for signing up! Use the code below to verify your email address:"
	}

	minutes := int(auth.OTPValidity.Minutes())
	lines := []string{
		"From: " + from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="UTF-8"`,
		"",
		"Hello,",
		"",
		intro,
		"",
		"Code: " + code,
		"",
		fmt.Sprintf("This code expires in %d minutes. If you did not request it, you can ignore this email.", minutes),
		"",
		fmt.Sprintf("The %s Team", appName),
	}
	return []byte(strings.Join(lines, "\r\n"))
}

// Compile-time interface check.
var _ auth.Notifier = (*SMTPNotifier)(nil)
