// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tunetrail/tunetrail/internal/clock"
	"github.com/tunetrail/tunetrail/internal/models"
)

// Claims is the payload of a session bearer token.
type Claims struct {
	UserID string `json:"uid"`
	OrgID  string `json:"org"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager creates and validates session bearer tokens.
//
// Tokens are signed with HMAC-SHA256. They are stateless and cannot be
// revoked before expiration, which is why the configured TTL stays short.
type JWTManager struct {
	secret []byte
	ttl    time.Duration
	clk    clock.Clock
}

// NewJWTManager creates a session token manager. The secret must be at least
// 32 characters; it is held as []byte to keep it out of the string intern
// table.
func NewJWTManager(secret string, ttl time.Duration, clk clock.Clock) (*JWTManager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 characters")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTManager{secret: []byte(secret), ttl: ttl, clk: clk}, nil
}

// GenerateToken signs a session token for an authenticated user.
func (m *JWTManager) GenerateToken(user *models.User) (string, error) {
	now := m.clk.Now()
	claims := &Claims{
		UserID: user.ID,
		OrgID:  user.OrgID,
		Role:   string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies the signature and time bounds of a session token and
// returns its claims. Failures are typed *Error values with stable kinds.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, *Error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.clk.Now))

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, &Error{Kind: KindExpiredCredential, Message: "session token expired"}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, errUnknown()
	case err != nil:
		return nil, errMalformed("invalid session token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errMalformed("invalid token claims")
	}
	return claims, nil
}
