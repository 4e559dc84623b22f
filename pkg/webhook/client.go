// Package webhook pushes JSON events to an outbound HTTP endpoint.
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Event is the envelope posted to the webhook receiver.
type Event struct {
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurredAt"`
	Data       interface{} `json:"data"`
}

// Client posts events with resty.
type Client struct {
	url  string
	http *resty.Client
}

// New returns a client for url, or nil when url is empty.
func New(url string, timeout time.Duration) *Client {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		url: url,
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "learnapp-api/webhook"),
	}
}

// Post sends event and fails on transport errors or non-2xx responses.
func (c *Client) Post(ctx context.Context, event Event) error {
	if c == nil {
		return fmt.Errorf("webhook disabled")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(event).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook responded %d", resp.StatusCode())
	}
	return nil
}
