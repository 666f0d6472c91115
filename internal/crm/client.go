// Package crm is a thin HTTP client for the CRM's contact API. It is
// used by the ops scan commands to find contacts carrying follow-up
// tags.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Contact is the subset of a CRM contact record the scanner needs.
// Addresses stay inside this process; only the domain is ever written
// to disk.
type Contact struct {
	ID        string   `json:"id"`
	CompanyID string   `json:"company_id"`
	Email     string   `json:"email"`
	Domain    string   `json:"domain"`
	Tags      []string `json:"tags"`
}

// ClientConfig configures the CRM client behavior
type ClientConfig struct {
	BaseURL       string
	SessionToken  string
	LoginEmail    string
	LoginPassword string
	Timeout       time.Duration
	UserAgent     string
}

// Client handles HTTP requests to the CRM API
type Client struct {
	baseURL      string
	sessionToken string
	config       *ClientConfig
	httpClient   *http.Client
}

// ErrorResponse represents a CRM API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// NewClient creates a new CRM client. When no session token is
// configured the client logs in lazily on first use.
func NewClient(config *ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "outreach-control/1.0"
	}

	return &Client{
		baseURL:      config.BaseURL,
		sessionToken: config.SessionToken,
		config:       config,
		httpClient:   &http.Client{Timeout: config.Timeout},
	}
}

// SearchByTag returns all contacts carrying the given tag
func (c *Client) SearchByTag(ctx context.Context, tag string) ([]Contact, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/api/contacts/search?tag=%s", c.baseURL, url.QueryEscape(tag))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tag search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result struct {
		Contacts []Contact `json:"contacts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode tag search response: %w", err)
	}

	return result.Contacts, nil
}

// ReplaceTag swaps oldTag for newTag on a contact
func (c *Client) ReplaceTag(ctx context.Context, contactID, oldTag, newTag string) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{
		"remove": oldTag,
		"add":    newTag,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal tag update: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/contacts/%s/tags", c.baseURL, url.PathEscape(contactID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tag update request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.parseError(resp)
	}

	return nil
}

// ensureSession logs in when no session token is present yet
func (c *Client) ensureSession(ctx context.Context) error {
	if c.sessionToken != "" {
		return nil
	}
	if c.config.LoginEmail == "" || c.config.LoginPassword == "" {
		return fmt.Errorf("CRM client has neither a session token nor login credentials")
	}

	payload, err := json.Marshal(map[string]string{
		"email":    c.config.LoginEmail,
		"password": c.config.LoginPassword,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/login", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseError(resp)
	}

	var result struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}
	if result.SessionToken == "" {
		return fmt.Errorf("login response contained no session token")
	}

	c.sessionToken = result.SessionToken
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.sessionToken)
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
}

func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return fmt.Errorf("CRM API error (HTTP %d): %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("CRM API error: HTTP %d", resp.StatusCode)
}
