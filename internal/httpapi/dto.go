// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

package httpapi

import (
	"time"

	"github.com/otpgate/otpgate/internal/auth"
)

type registerRequest struct {
	Email                string  `json:"email" binding:"required,email"`
	Username             string  `json:"username" binding:"required,min=3,max=30"`
	Password             string  `json:"password" binding:"required,min=8"`
	PasswordConfirmation string  `json:"password_confirmation" binding:"required,eqfield=Password"`
	FirstName            string  `json:"first_name"`
	LastName             string  `json:"last_name"`
	PhoneNumber          string  `json:"phone_number"`
	Address              string  `json:"address"`
	ReferralCode         *string `json:"referral_code"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type verifyOTPRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,len=6,numeric"`
}

type resetPasswordRequest struct {
	Email                string `json:"email" binding:"required,email"`
	Code                 string `json:"code" binding:"required,len=6,numeric"`
	Password             string `json:"password" binding:"required,min=8"`
	PasswordConfirmation string `json:"password_confirmation" binding:"required,eqfield=Password"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func newUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:        u.ID.String(),
		Email:     u.Email,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		CreatedAt: u.CreatedAt,
	}
}
