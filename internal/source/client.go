// Package source provides snapshot feed adapters. The HTTP client polls a
// JSON endpoint once per call; the WebSocket feed keeps a streaming
// subscription and serves the latest records batch-wise. Both satisfy
// domain.SnapshotSource.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vborovik/oddskeeper/internal/domain"
)

// Client polls a feed endpoint that returns a JSON array of match records.
type Client struct {
	name       string
	feedURL    string
	httpClient *http.Client
}

// NewClient creates an HTTP snapshot source.
//
// feedURL is the full endpoint returning the current match list, e.g.
// "https://feed.example.com/v1/live".
func NewClient(name, feedURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		name:    name,
		feedURL: feedURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name identifies this source in logs and presence keys.
func (c *Client) Name() string { return c.name }

// Fetch retrieves one batch of snapshots.
func (c *Client) Fetch(ctx context.Context) ([]domain.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("source: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: fetch %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("source: fetch %s: unexpected status %d", c.name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("source: read body: %w", err)
	}

	var records []feedMatch
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("source: decode feed: %w", err)
	}

	batch := make([]domain.Snapshot, 0, len(records))
	for i := range records {
		batch = append(batch, records[i].toDomain())
	}
	return batch, nil
}
