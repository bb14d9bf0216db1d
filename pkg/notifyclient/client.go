/**
 * @description
 * Client for delivering run notifications to an HTTP webhook. The payload is
 * compatible with the apprise-api notify endpoint.
 */
package notifyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rencire/free-games-claimer/internal/domain"
)

// Client posts notifications to a webhook.
type Client struct {
	url        string
	httpClient *http.Client
}

type payload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Format string `json:"format,omitempty"`
	Type   string `json:"type"`
}

// NewClient creates a new webhook client.
func NewClient(url string) *Client {
	return &Client{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Notify posts event to the webhook. Failure reports are sent with the failure type.
func (c *Client) Notify(ctx context.Context, event domain.NotificationEvent) error {
	if c.url == "" {
		return fmt.Errorf("notification URL is not configured")
	}

	kind := "info"
	if strings.HasSuffix(event.Title, " failed") {
		kind = "failure"
	}
	body, err := json.Marshal(payload{Title: event.Title, Body: event.Body, Format: event.Format, Type: kind})
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute notification request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification webhook returned error status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
