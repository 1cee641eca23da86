/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestParse_ValidHS256(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{
		UserID: "u1",
		Roles:  []string{RoleAdmin},
	}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(secret, token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "u1" || claims.Subject != "u1" {
		t.Fatalf("expected user id u1, got %q / %q", claims.UserID, claims.Subject)
	}
	if !claims.HasRole(RoleEditor, RoleAdmin) {
		t.Fatal("expected admin role")
	}
	if claims.HasRole(RoleEditor) {
		t.Fatal("unexpected editor role")
	}
}

func TestParse_RejectsUnexpectedAlgorithm(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()
	claims := Claims{
		UserID: "u1",
		Roles:  []string{RoleAdmin},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   "u1",
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS384, claims)
	tokenStr, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := Parse(secret, tokenStr); err == nil {
		t.Fatalf("expected parse to reject non-HS256 token")
	}
}

func TestParse_RejectsExpiredAndWrongSecret(t *testing.T) {
	secret := []byte("test-secret")

	expired, err := Issue(secret, Claims{UserID: "u1"}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse(secret, expired); err == nil {
		t.Fatal("expected expired token to be rejected")
	}

	valid, err := Issue(secret, Claims{UserID: "u1"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse([]byte("other-secret"), valid); err == nil {
		t.Fatal("expected signature mismatch to be rejected")
	}
}

func TestParse_RequiresExpiry(t *testing.T) {
	secret := []byte("test-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "u1"})
	tokenStr, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := Parse(secret, tokenStr); err == nil {
		t.Fatal("expected token without exp to be rejected")
	}
}

func TestParse_RequiresIssuer(t *testing.T) {
	secret := []byte("test-secret")
	claims := Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    "someone-else",
		},
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := Parse(secret, tokenStr); err == nil {
		t.Fatal("expected foreign issuer to be rejected")
	}
}

func TestIssue_ValidatesClaims(t *testing.T) {
	secret := []byte("test-secret")

	if _, err := Issue(secret, Claims{Roles: []string{RoleAdmin}}, time.Hour); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}
	if _, err := Issue(secret, Claims{UserID: "u1", Roles: []string{"root"}}, time.Hour); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}
