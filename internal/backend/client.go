// Package backend talks to the persistence service over HTTP: match setup lookups,
// result delivery, chat persistence and presence updates.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pong-realtime/internal/protocol"
)

var ErrMatchNotFound = errors.New("match_not_found")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s %s failed with status %d", e.Method, e.Path, e.Code)
}

// Retryable reports whether a failed call is worth another attempt.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return err != nil
}

type Client struct {
	inner   *http.Client
	baseURL string
	token   string
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		inner:   &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

type chatRecord struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
}

type presenceRecord struct {
	Online bool `json:"online"`
}

func (c *Client) FetchMatch(ctx context.Context, gameID string) (protocol.MatchSetup, error) {
	var setup protocol.MatchSetup
	path := "/api/games/" + url.PathEscape(gameID)
	code, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		if code == http.StatusNotFound {
			return setup, ErrMatchNotFound
		}
		return setup, err
	}
	if err := json.Unmarshal(body, &setup); err != nil {
		return setup, fmt.Errorf("decode match setup: %w", err)
	}
	if setup.GameID == "" {
		setup.GameID = gameID
	}
	return setup, nil
}

func (c *Client) PostResult(ctx context.Context, result protocol.GameResult) error {
	_, _, err := c.do(ctx, http.MethodPost, "/api/games/results", result)
	return err
}

func (c *Client) PostChat(ctx context.Context, senderID, receiverID, message string) error {
	_, _, err := c.do(ctx, http.MethodPost, "/api/chat/messages", chatRecord{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Message:    message,
	})
	return err
}

func (c *Client) SetPresence(ctx context.Context, userID string, online bool) error {
	path := "/api/users/" + url.PathEscape(userID) + "/status"
	_, _, err := c.do(ctx, http.MethodPatch, path, presenceRecord{Online: online})
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.inner.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	bodyRaw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return resp.StatusCode, nil, readErr
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, bodyRaw, nil
	}
	return resp.StatusCode, bodyRaw, &StatusError{Method: method, Path: path, Code: resp.StatusCode}
}
