// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultTokenTTL is the session credential lifetime used when no TTL is
// configured.
const DefaultTokenTTL = 24 * time.Hour

// TokenIssuer mints the stateless session credential returned by Login.
type TokenIssuer interface {
	// Issue returns a signed token carrying the user id and issuance time.
	Issue(userID ulid.ULID, issuedAt time.Time) (string, error)
}

// JWTIssuer implements TokenIssuer with HS256-signed JWTs. The token is
// self-contained; there is no server-side session record to revoke.
type JWTIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTIssuer creates a JWTIssuer. The secret must be non-empty; a
// non-positive ttl falls back to DefaultTokenTTL.
func NewJWTIssuer(secret string, ttl time.Duration) (*JWTIssuer, error) {
	if secret == "" {
		return nil, oops.Code("TOKEN_INVALID_SECRET").Errorf("token secret cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTIssuer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue signs a token with the user id as subject and the issuance time.
func (i *JWTIssuer) Issue(userID ulid.ULID, issuedAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(i.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return signed, nil
}

// Subject verifies a token's signature and returns the user id it was
// issued for. Downstream request authentication is outside this core;
// Subject exists for callers that need to identify the bearer.
func (i *JWTIssuer) Subject(token string) (ulid.ULID, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, oops.Code("TOKEN_INVALID").Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return ulid.ULID{}, oops.Code("TOKEN_INVALID").Wrap(err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return ulid.ULID{}, oops.Code("TOKEN_INVALID").Errorf("token has no subject")
	}

	id, err := ulid.Parse(claims.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code("TOKEN_INVALID").
			With("subject", claims.Subject).
			Wrap(err)
	}
	return id, nil
}
