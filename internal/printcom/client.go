// Package printcom is the client for the remote order-management API:
// credential exchange, order-item polling and status acknowledgment.
package printcom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Remote status vocabulary. These values belong to the supplier API and are
// never stored as local lifecycle states.
const (
	StatusSentToSupplier     = "SENTTOSUPPLIER"
	StatusAcceptedBySupplier = "ACCEPTEDBYSUPPLIER"
	StatusRefusedBySupplier  = "REFUSEDBYSUPPLIER"
)

const (
	// tokenValidity is the fixed window the supplier issues tokens for.
	tokenValidity = time.Hour
	// refreshMargin forces a proactive refresh shortly before expiry.
	refreshMargin = 2 * time.Minute
)

// ErrAuthFailed is returned when the credential exchange is rejected.
var ErrAuthFailed = errors.New("authentication failed")

// Client encapsulates HTTP interaction with the order-management API. The
// bearer token and its expiry are the only mutable state, guarded by a mutex
// so the client is safe for concurrent use.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *retryablehttp.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	// now is overridable in tests.
	now func() time.Time
}

// OrderItem is one order document returned by the remote API. Payload holds
// the full remote representation; ExternalID and Status are lifted out of it.
type OrderItem struct {
	ExternalID string
	Status     string
	Payload    json.RawMessage
}

// NewClient creates a client for the order-management API at baseURL,
// authenticating with the given identity secrets.
func NewClient(baseURL, username, password string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = 15 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: rc,
		now:        time.Now,
	}
}

// IsValid reports whether the held token is usable without a refresh. It is
// a pure clock comparison and performs no I/O.
func (c *Client) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenUsableLocked()
}

func (c *Client) tokenUsableLocked() bool {
	return c.token != "" && c.now().Add(refreshMargin).Before(c.tokenExpiry)
}

// EnsureValid returns a usable bearer token, refreshing it when the held one
// is absent, expired or about to expire. A failed exchange clears the held
// token so later calls retry instead of reusing a rejected credential.
func (c *Client) EnsureValid(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tokenUsableLocked() {
		return c.token, nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", nil)
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrAuthFailed, err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.clearTokenLocked()
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.clearTokenLocked()
		return "", fmt.Errorf("%w: unexpected status %d", ErrAuthFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.clearTokenLocked()
		return "", fmt.Errorf("%w: read response: %v", ErrAuthFailed, err)
	}

	// The login endpoint returns the JWT as a quoted string body.
	token := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if token == "" {
		c.clearTokenLocked()
		return "", fmt.Errorf("%w: empty token", ErrAuthFailed)
	}

	c.token = "Bearer " + token
	c.tokenExpiry = c.now().Add(tokenValidity)

	return c.token, nil
}

func (c *Client) clearTokenLocked() {
	c.token = ""
	c.tokenExpiry = time.Time{}
}

// Token returns the currently held bearer token without refreshing it.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// FetchOrderItems returns all order items currently in the given remote
// status, in the order the API reports them.
func (c *Client) FetchOrderItems(ctx context.Context, status string) ([]OrderItem, error) {
	token, err := c.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/order-items/?statuses=%s", c.baseURL, status)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch order items: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch order items: unexpected status %d", resp.StatusCode)
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}

	items := make([]OrderItem, 0, len(raw))
	for _, doc := range raw {
		var head struct {
			OrderItemNumber string `json:"orderItemNumber"`
			Status          string `json:"status"`
		}
		if err := json.Unmarshal(doc, &head); err != nil {
			return nil, fmt.Errorf("decode order item: %w", err)
		}
		items = append(items, OrderItem{
			ExternalID: head.OrderItemNumber,
			Status:     head.Status,
			Payload:    doc,
		})
	}

	return items, nil
}

type statusComment struct {
	Status   string `json:"status"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

type statusUpdate struct {
	Status  string        `json:"status"`
	Comment statusComment `json:"comment"`
}

// UpdateItemStatus acknowledges an order item on the remote side by setting
// its status with an audit comment.
func (c *Client) UpdateItemStatus(ctx context.Context, externalID, newStatus, message string) error {
	token, err := c.EnsureValid(ctx)
	if err != nil {
		return err
	}

	if message == "" {
		message = "Updated by user " + c.username
	}

	body, err := json.Marshal(statusUpdate{
		Status: newStatus,
		Comment: statusComment{
			Status:   newStatus,
			Username: c.username,
			Message:  message,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal status update: %w", err)
	}

	url := fmt.Sprintf("%s/order-items/%s/status", c.baseURL, externalID)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("update item status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("update item status: unexpected status %d", resp.StatusCode)
	}

	return nil
}
