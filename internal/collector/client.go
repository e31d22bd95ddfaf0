// Package collector is the client for the downstream fulfillment consumer.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client encapsulates HTTP interaction with the downstream consumer that
// performs further order processing.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the downstream consumer at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// SendOrder posts an order payload to the consumer. Anything but a 2xx
// acknowledgment is an error; the caller decides how to record the failure.
func (c *Client) SendOrder(ctx context.Context, payload json.RawMessage) error {
	url := c.baseURL + "/collect_printcom_order_item"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send order: unexpected status %d", resp.StatusCode)
	}

	return nil
}

// ShareToken hands the current supplier bearer token to the consumer so it
// can fetch supplier files on its own.
func (c *Client) ShareToken(ctx context.Context, token string) error {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send-token/", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("share token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("share token: unexpected status %d", resp.StatusCode)
	}

	return nil
}
