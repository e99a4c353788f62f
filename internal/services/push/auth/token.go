package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier authenticates handshake tokens locally as HMAC-signed JWTs,
// for deployments without an introspection endpoint.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier wires a JWT authenticator over a shared HMAC secret.
func NewTokenVerifier(secret []byte) (*TokenVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	return &TokenVerifier{secret: secret}, nil
}

// Authenticate verifies the token signature and expiry and returns the
// subject claim as the canonical user identity.
func (v *TokenVerifier) Authenticate(_ context.Context, credential string) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", errors.New("auth is not configured")
	}
	credential, err := normalizeCredential(credential)
	if err != nil {
		return "", err
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return userID, nil
}
