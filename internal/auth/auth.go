// Package auth resolves a connection's bearer token to a user identity through the
// external auth service.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrMissingToken = errors.New("missing_token")
	ErrUnauthorized = errors.New("unauthorized")
)

type Identity struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	UserAlias string `json:"userAlias"`
}

type Validator struct {
	inner    *http.Client
	endpoint string
}

func NewValidator(serviceURL string, timeout time.Duration) *Validator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Validator{
		inner:    &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(serviceURL, "/") + "/api/auth/validate",
	}
}

// Validate returns ErrUnauthorized when the auth service rejects the token; any other
// error means the service itself could not be reached.
func (v *Validator) Validate(ctx context.Context, token string) (Identity, error) {
	var id Identity
	if token == "" {
		return id, ErrMissingToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return id, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.inner.Do(req)
	if err != nil {
		return id, fmt.Errorf("auth service: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return id, err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return id, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return id, fmt.Errorf("auth service returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &id); err != nil {
		return id, fmt.Errorf("decode identity: %w", err)
	}
	if id.UserID == "" {
		return id, ErrUnauthorized
	}
	if id.UserAlias == "" {
		id.UserAlias = id.Username
	}
	return id, nil
}

// TokenFromRequest prefers the auth cookie and falls back to the token query parameter.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(authz[len("Bearer "):])
	}
	return ""
}
