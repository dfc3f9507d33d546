// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with all auth routes mounted.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	v1 := r.Group("/api/v1/auth")
	{
		v1.POST("/register", h.Register)
		v1.POST("/login", h.Login)
		v1.POST("/email/verify/request", h.RequestEmailVerification)
		v1.POST("/email/verify", h.VerifyOTP)
		v1.POST("/password/forgot", h.RequestPasswordReset)
		v1.POST("/password/reset", h.ResetPassword)
	}

	return r
}
