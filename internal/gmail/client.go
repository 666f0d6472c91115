// Package gmail wraps the Gmail API behind the narrow provider
// contract the send queue needs: send a draft, probe for a sent
// message, probe for a reply. Probes are metadata-only.
package gmail

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Config holds Gmail API credentials and request limits
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	AccessToken  string
	UserEmail    string

	RequestTimeout time.Duration
	RateLimitDelay time.Duration
}

// Client implements Provider on top of the Gmail API
type Client struct {
	service *gmailapi.Service
	userID  string
	config  *Config
}

// NewClient creates a Gmail API client with OAuth2 credentials
func NewClient(ctx context.Context, config *Config) (*Client, error) {
	oauthConfig := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Scopes:       []string{gmailapi.GmailSendScope, gmailapi.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{
		AccessToken:  config.AccessToken,
		RefreshToken: config.RefreshToken,
		TokenType:    "Bearer",
	}

	httpClient := oauthConfig.Client(ctx, token)

	service, err := gmailapi.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	userID := "me"
	if config.UserEmail != "" {
		userID = config.UserEmail
	}

	return &Client{
		service: service,
		userID:  userID,
		config:  config,
	}, nil
}

// HealthCheck verifies the Gmail connection is working
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.service.Users.GetProfile(c.userID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get Gmail profile: %w", err)
	}
	return nil
}

// Send sends the draft and returns the resulting message and thread
// IDs. Errors are returned raw; classification happens in the
// dispatcher.
func (c *Client) Send(ctx context.Context, draftID string) (*SendResult, error) {
	c.throttle()

	msg, err := c.service.Users.Drafts.Send(c.userID, &gmailapi.Draft{Id: draftID}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	return &SendResult{
		MessageID: msg.Id,
		ThreadID:  msg.ThreadId,
	}, nil
}

// SearchSent probes the sent folder for a message containing the
// tracking marker. Returns nil when nothing matches.
func (c *Client) SearchSent(ctx context.Context, trackingID string) (*DetectResult, error) {
	query := fmt.Sprintf("in:sent %q", trackingID)
	return c.searchFirst(ctx, query)
}

// SearchInboxReplies probes the inbox for a reply quoting the
// tracking marker. Returns nil when nothing matches.
func (c *Client) SearchInboxReplies(ctx context.Context, trackingID string) (*DetectResult, error) {
	query := fmt.Sprintf("in:inbox %q", trackingID)
	return c.searchFirst(ctx, query)
}

// searchFirst runs a search and resolves the first hit to thread ID
// and date using the metadata format only. Bodies are never fetched.
func (c *Client) searchFirst(ctx context.Context, query string) (*DetectResult, error) {
	c.throttle()

	resp, err := c.service.Users.Messages.List(c.userID).Q(query).MaxResults(1).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("Gmail search failed: %w", err)
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}

	c.throttle()

	msg, err := c.service.Users.Messages.Get(c.userID, resp.Messages[0].Id).Format("metadata").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message metadata: %w", err)
	}

	return &DetectResult{
		ThreadID: msg.ThreadId,
		Date:     time.UnixMilli(msg.InternalDate).UTC(),
	}, nil
}

func (c *Client) throttle() {
	if c.config.RateLimitDelay > 0 {
		time.Sleep(c.config.RateLimitDelay)
	}
}
