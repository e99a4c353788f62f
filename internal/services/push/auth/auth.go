// Package auth verifies transport handshake credentials and resolves them
// to canonical user identities. The registry only ever indexes by these
// identities, never by raw credentials.
package auth

import (
	"context"
	"errors"
	"strings"
)

// ErrUnauthorized indicates the credential did not resolve to an active
// user identity.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator verifies one handshake credential and yields the canonical
// user identity it was issued for.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (string, error)
}

func normalizeCredential(credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", errors.New("access token is required")
	}
	return credential, nil
}
