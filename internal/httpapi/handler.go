// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

// Package httpapi exposes the account lifecycle operations over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/otpgate/otpgate/internal/auth"
	"github.com/otpgate/otpgate/internal/observability"
)

// AuthService is the account lifecycle surface the handlers call.
// The interface lives with its consumer so tests can stub it.
type AuthService interface {
	Register(ctx context.Context, reg auth.Registration) (*auth.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	RequestEmailVerification(ctx context.Context, email string) error
	RequestPasswordReset(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
}

// Handler serves the auth endpoints.
type Handler struct {
	svc     AuthService
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewHandler creates a Handler. metrics may be nil when the
// observability server is disabled.
func NewHandler(svc AuthService, metrics *observability.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, metrics: metrics, logger: logger}
}

// Register handles POST /api/v1/auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("register validation failed", "error", err, "remote_addr", c.ClientIP())
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request"})
		return
	}

	user, err := h.svc.Register(c.Request.Context(), auth.Registration{
		Email:        req.Email,
		Username:     req.Username,
		Password:     req.Password,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PhoneNumber:  req.PhoneNumber,
		Address:      req.Address,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		h.record("register", "error")
		if errors.Is(err, auth.ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, errorResponse{Error: "email already registered"})
			return
		}
		h.fail(c, "register", err)
		return
	}

	h.record("register", "ok")
	if h.metrics != nil {
		h.metrics.RegistrationsTotal.Inc()
		// Registration issues a verification code as a side effect.
		h.metrics.OTPIssuedTotal.WithLabelValues(string(auth.PurposeVerifyEmail)).Inc()
	}
	h.logger.Info("user registered", "email", user.Email, "remote_addr", c.ClientIP())
	c.JSON(http.StatusCreated, newUserResponse(user))
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("login validation failed", "error", err, "remote_addr", c.ClientIP())
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request"})
		return
	}

	token, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if h.metrics != nil {
			h.metrics.LoginsTotal.WithLabelValues("error").Inc()
		}
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			// Unknown email and wrong password look identical to
			// the caller.
			h.logger.Warn("login failed", "email", req.Email, "remote_addr", c.ClientIP())
			c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid email or password"})
		case errors.Is(err, auth.ErrEmailNotVerified):
			c.JSON(http.StatusForbidden, errorResponse{Error: "email not verified"})
		default:
			h.fail(c, "login", err)
		}
		return
	}

	if h.metrics != nil {
		h.metrics.LoginsTotal.WithLabelValues("ok").Inc()
	}
	h.logger.Info("user login successful", "email", req.Email, "remote_addr", c.ClientIP())
	c.JSON(http.StatusOK, tokenResponse{Token: token})
}

// RequestEmailVerification handles POST /api/v1/auth/email/verify/request.
func (h *Handler) RequestEmailVerification(c *gin.Context) {
	h.requestOTP(c, "request_email_verification", auth.PurposeVerifyEmail, h.svc.RequestEmailVerification)
}

// RequestPasswordReset handles POST /api/v1/auth/password/forgot.
func (h *Handler) RequestPasswordReset(c *gin.Context) {
	h.requestOTP(c, "request_password_reset", auth.PurposeResetPassword, h.svc.RequestPasswordReset)
}

func (h *Handler) requestOTP(c *gin.Context, op string, purpose auth.Purpose, request func(ctx context.Context, email string) error) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("otp request validation failed", "operation", op, "error", err, "remote_addr", c.ClientIP())
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request"})
		return
	}

	if err := request(c.Request.Context(), req.Email); err != nil {
		h.record(op, "error")
		if errors.Is(err, auth.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: "account not found"})
			return
		}
		h.fail(c, op, err)
		return
	}

	h.record(op, "ok")
	if h.metrics != nil {
		h.metrics.OTPIssuedTotal.WithLabelValues(string(purpose)).Inc()
	}
	c.JSON(http.StatusAccepted, messageResponse{Message: "code sent"})
}

// VerifyOTP handles POST /api/v1/auth/email/verify.
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("verify validation failed", "error", err, "remote_addr", c.ClientIP())
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request"})
		return
	}

	if err := h.svc.VerifyOTP(c.Request.Context(), req.Email, req.Code); err != nil {
		h.record("verify_otp", "error")
		h.recordConsume(auth.PurposeVerifyEmail, err)
		h.failOTP(c, "verify_otp", err)
		return
	}

	h.record("verify_otp", "ok")
	h.recordConsume(auth.PurposeVerifyEmail, nil)
	h.logger.Info("email verified", "email", req.Email, "remote_addr", c.ClientIP())
	c.JSON(http.StatusOK, messageResponse{Message: "email verified"})
}

// ResetPassword handles POST /api/v1/auth/password/reset.
func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("reset validation failed", "error", err, "remote_addr", c.ClientIP())
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request"})
		return
	}

	if err := h.svc.ResetPassword(c.Request.Context(), req.Email, req.Code, req.Password); err != nil {
		h.record("reset_password", "error")
		h.recordConsume(auth.PurposeResetPassword, err)
		h.failOTP(c, "reset_password", err)
		return
	}

	h.record("reset_password", "ok")
	h.recordConsume(auth.PurposeResetPassword, nil)
	h.logger.Info("password reset", "email", req.Email, "remote_addr", c.ClientIP())
	c.JSON(http.StatusOK, messageResponse{Message: "password reset"})
}

// failOTP maps the errors shared by the two code-consuming endpoints.
func (h *Handler) failOTP(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, auth.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: "account not found"})
	case errors.Is(err, auth.ErrOTPExpired):
		c.JSON(http.StatusBadRequest, errorResponse{Error: "code expired"})
	case errors.Is(err, auth.ErrOTPInvalid):
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid code"})
	default:
		h.fail(c, op, err)
	}
}

// fail logs an unexpected error and returns an opaque 500.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	h.logger.Error("request failed", "operation", op, "error", err, "remote_addr", c.ClientIP())
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func (h *Handler) record(op, status string) {
	if h.metrics != nil {
		h.metrics.RequestsTotal.WithLabelValues(op, status).Inc()
	}
}

// recordConsume counts code consumption attempts by outcome. Not-found
// and infrastructure failures are not consumption attempts.
func (h *Handler) recordConsume(purpose auth.Purpose, err error) {
	if h.metrics == nil {
		return
	}
	var result string
	switch {
	case err == nil:
		result = "ok"
	case errors.Is(err, auth.ErrOTPExpired):
		result = "expired"
	case errors.Is(err, auth.ErrOTPInvalid):
		result = "invalid"
	default:
		return
	}
	h.metrics.OTPConsumedTotal.WithLabelValues(string(purpose), result).Inc()
}
