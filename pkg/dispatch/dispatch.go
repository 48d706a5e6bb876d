// Package dispatch triggers a remote re-run of the pipeline through a
// GitHub repository_dispatch event.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
)

// DefaultBaseURL is the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

// DefaultEventType is the event the artifact workflow listens for.
const DefaultEventType = "regenerate-artifacts"

// Config configures a Client.
type Config struct {
	BaseURL    string
	Repository string // owner/name
	EventType  string
	Token      string
	Timeout    time.Duration
}

// Client sends repository_dispatch events.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a client. The repository and token are required.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.EventType == "" {
		cfg.EventType = DefaultEventType
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	owner, name, ok := strings.Cut(cfg.Repository, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, tferrors.Newf(tferrors.CodeConfig, "dispatch.repository must be owner/name, got %q", cfg.Repository)
	}
	if cfg.Token == "" {
		return nil, tferrors.New(tferrors.CodeAuthentication, "dispatch token missing: set GITHUB_TOKEN or dispatch.token")
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Repository returns the target repository.
func (c *Client) Repository() string {
	return c.cfg.Repository
}

type dispatchRequest struct {
	EventType     string                 `json:"event_type"`
	ClientPayload map[string]interface{} `json:"client_payload,omitempty"`
}

// Trigger sends the dispatch event. GitHub answers 204 on success.
func (c *Client) Trigger(ctx context.Context, payload map[string]interface{}) error {
	body, err := json.Marshal(dispatchRequest{EventType: c.cfg.EventType, ClientPayload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode dispatch request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/repos/" + c.cfg.Repository + "/dispatches"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return tferrors.Wrap(err, tferrors.CodeConfig, "invalid dispatch url")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return tferrors.Canceled("dispatch", ctx.Err())
		}
		return tferrors.Wrap(err, tferrors.CodeNetwork, "dispatch request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	code := tferrors.CodeNetwork
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		code = tferrors.CodeAuthentication
	}
	return tferrors.Newf(code, "dispatch rejected: %s", resp.Status).
		WithContext("repository", c.cfg.Repository).
		WithContext("response", strings.TrimSpace(string(msg)))
}
