package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/notifeed/notifeed/internal/platform/timeouts"
)

// IntrospectionClient authenticates handshake tokens against an auth
// service's introspection endpoint.
type IntrospectionClient struct {
	baseURL        string
	resourceSecret string
	httpClient     *http.Client
}

type introspectResponse struct {
	Active bool   `json:"active"`
	UserID string `json:"user_id"`
}

// NewIntrospectionClient wires an introspection authenticator. Both the
// auth base URL and the resource secret are required.
func NewIntrospectionClient(baseURL string, resourceSecret string) (*IntrospectionClient, error) {
	baseURL = strings.TrimSpace(baseURL)
	resourceSecret = strings.TrimSpace(resourceSecret)
	if baseURL == "" {
		return nil, errors.New("auth base url is required")
	}
	if resourceSecret == "" {
		return nil, errors.New("resource secret is required")
	}
	return &IntrospectionClient{
		baseURL:        baseURL,
		resourceSecret: resourceSecret,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}, nil
}

// Authenticate resolves an access token to a canonical user identity via
// the auth service's introspection endpoint.
func (c *IntrospectionClient) Authenticate(ctx context.Context, credential string) (string, error) {
	if c == nil || c.httpClient == nil {
		return "", errors.New("auth is not configured")
	}
	credential, err := normalizeCredential(credential)
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(c.baseURL, "/") + "/introspect"
	callCtx, cancel := context.WithTimeout(ctx, timeouts.AuthIntrospect)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build introspection request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("X-Resource-Secret", c.resourceSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call auth introspection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth introspection status %d", resp.StatusCode)
	}

	var payload introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode introspection response: %w", err)
	}
	if !payload.Active {
		return "", fmt.Errorf("%w: inactive access token", ErrUnauthorized)
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		return "", fmt.Errorf("%w: introspection returned empty user id", ErrUnauthorized)
	}
	return userID, nil
}
