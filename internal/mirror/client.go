// Package mirror implements the cloud-mirror contract over HTTP. Failures
// are surfaced to the reconciler, which logs and moves on; the local ledger
// stays authoritative until the next successful sync.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tempo/backend/internal/model"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

// InsertTransaction uploads an optimistic record. The mirror answers with
// the canonical record (durable id) or null when it deduplicated the write.
func (c *Client) InsertTransaction(ctx context.Context, userID string, tx model.Transaction) (*model.Transaction, error) {
	body, err := c.do(ctx, http.MethodPost, "/transactions", userID, tx)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 || string(bytes.TrimSpace(body)) == "null" {
		return nil, nil
	}
	var confirmed model.Transaction
	if err := json.Unmarshal(body, &confirmed); err != nil {
		return nil, fmt.Errorf("mirror: decode confirmed transaction: %w", err)
	}
	return &confirmed, nil
}

func (c *Client) DeleteTransaction(ctx context.Context, userID string, tx model.Transaction) error {
	_, err := c.do(ctx, http.MethodDelete, "/transactions", userID, tx)
	return err
}

func (c *Client) UpsertSettings(ctx context.Context, userID string, settings model.Settings) error {
	_, err := c.do(ctx, http.MethodPut, "/settings", userID, settings)
	return err
}

func (c *Client) do(ctx context.Context, method, path, userID string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("mirror: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("mirror: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mirror: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mirror: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mirror: %s %s: status %d", method, path, resp.StatusCode)
	}
	return body, nil
}
