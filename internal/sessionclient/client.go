// Package sessionclient talks to the session snapshot HTTP API on behalf of
// the engine. It implements snapshot.Remote.
package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aamakeev/director-extension/internal/snapshot"
)

// Client reads and writes one session's snapshot on the remote API.
type Client struct {
	http      *http.Client
	baseURL   string
	sessionID string
	apiKey    string
}

func New(baseURL, sessionID, apiKey string) *Client {
	return &Client{
		http:      &http.Client{Timeout: 5 * time.Second},
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		sessionID: sessionID,
		apiKey:    apiKey,
	}
}

func (c *Client) url() string {
	return fmt.Sprintf("%s/sessions/%s", c.baseURL, c.sessionID)
}

func (c *Client) newRequest(ctx context.Context, method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	return req, nil
}

// Load fetches the remote snapshot. The second return is false when the
// session has no remote record yet.
func (c *Client) Load(ctx context.Context) (snapshot.Snapshot, bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, nil)
	if err != nil {
		return snapshot.Snapshot{}, false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return snapshot.Snapshot{}, false, fmt.Errorf("load session: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return snapshot.Snapshot{}, false, nil
	default:
		return snapshot.Snapshot{}, false, fmt.Errorf("load session: status %d", resp.StatusCode)
	}

	var body struct {
		State snapshot.Snapshot `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return snapshot.Snapshot{}, false, fmt.Errorf("decode session: %w", err)
	}
	if body.State.GameState == nil {
		return snapshot.Snapshot{}, false, nil
	}
	return body.State, true, nil
}

// Save pushes a snapshot. A nil return snapshot means the write was accepted;
// a non-nil one carries the newer remote snapshot that displaced ours.
func (c *Client) Save(ctx context.Context, snap snapshot.Snapshot) (*snapshot.Snapshot, error) {
	payload, err := json.Marshal(map[string]any{"state": snap})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPut, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusConflict:
		return c.decodeConflict(ctx, resp.Body)
	default:
		return nil, fmt.Errorf("save session: status %d", resp.StatusCode)
	}
}

// decodeConflict extracts the winning snapshot from a 409 body, falling back
// to a fresh GET when the body does not carry it.
func (c *Client) decodeConflict(ctx context.Context, body io.Reader) (*snapshot.Snapshot, error) {
	var conflict struct {
		State snapshot.Snapshot `json:"state"`
	}
	if err := json.NewDecoder(body).Decode(&conflict); err == nil && conflict.State.GameState != nil {
		return &conflict.State, nil
	}

	log.Debug().Msg("conflict body missing state, refetching")
	snap, found, err := c.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("refetch after conflict: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("conflict reported but session vanished")
	}
	return &snap, nil
}

// Delete removes the remote session record.
func (c *Client) Delete(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodDelete, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete session: status %d", resp.StatusCode)
	}
	return nil
}
