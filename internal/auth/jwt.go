/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles accepted by the admin API. Admins manage policies, webhooks and
// passes; editors manage articles and queue entries.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
)

// Issuer is stamped on every token and required when parsing.
const Issuer = "inkwell"

var (
	// ErrUnknownRole is returned by Issue for roles outside RoleAdmin and RoleEditor.
	ErrUnknownRole = errors.New("unknown role")
	// ErrMissingSubject is returned by Issue when no user is named.
	ErrMissingSubject = errors.New("token subject required")
)

// Claims carries the caller identity and its roles.
type Claims struct {
	UserID string   `json:"uid"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// ValidRole reports whether role is one the API understands.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleEditor
}

// HasRole reports whether the claims carry any of roles.
func (c *Claims) HasRole(roles ...string) bool {
	return slices.ContainsFunc(c.Roles, func(have string) bool {
		return slices.Contains(roles, have)
	})
}

// Issue signs an HS256 token for claims that expires after ttl. Registered
// claims on the input are replaced.
func Issue(secret []byte, claims Claims, ttl time.Duration) (string, error) {
	if claims.UserID == "" {
		return "", ErrMissingSubject
	}
	for _, role := range claims.Roles {
		if !ValidRole(role) {
			return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
		}
	}

	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Parse verifies signature, expiry and issuer. Only HS256 is accepted.
func Parse(secret []byte, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(Issuer),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
