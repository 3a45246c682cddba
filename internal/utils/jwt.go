// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned by CheckTokenExpiry for a token whose exp
// claim lies in the past.
var ErrTokenExpired = errors.New("token expired")

// GenerateJWTToken creates a signed HMAC-SHA256 JWT for subject valid for
// ttl. The engine itself never signs tokens; backends and tests do.
func GenerateJWTToken(issuer, subject string, ttl time.Duration, signKey string) (string, error) {
	if issuer == "" || subject == "" || ttl == 0 || signKey == "" {
		return "", errors.New("invalid params for generating JWT Token")
	}

	now := time.Now()
	claims := &jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signKey))
	if err != nil {
		return "", fmt.Errorf("error occurred during singing JWT token: %w", err)
	}
	return signed, nil
}

// ParseBearerToken extracts the token from an "Authorization: Bearer <token>"
// header value.
func ParseBearerToken(authorizationHeader string) (string, error) {
	parts := strings.Split(strings.TrimSpace(authorizationHeader), " ")
	if len(parts) != 2 || parts[1] == "" {
		return "", errors.New("invalid authorization header")
	}
	return parts[1], nil
}

// TokenExpiry reads the exp claim without verifying the signature. The
// client cannot verify backend-issued tokens; it only needs to know when to
// stop presenting one. A token without exp returns the zero time.
func TokenExpiry(tokenString string) (time.Time, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, err
	}

	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}

// CheckTokenExpiry returns ErrTokenExpired when tokenString is a JWT whose
// exp lies before now. Opaque (non-JWT) tokens pass unchecked.
func CheckTokenExpiry(tokenString string, now time.Time) error {
	if tokenString == "" {
		return nil
	}

	exp, err := TokenExpiry(tokenString)
	if err != nil {
		return nil
	}
	if !exp.IsZero() && !now.Before(exp) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, exp.Format(time.RFC3339))
	}
	return nil
}
