package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client provides access to the hub REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client authenticated with a session token.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Health fetches the hub health report.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	err := c.get(ctx, "/health", nil, &resp)
	return resp, err
}

// Messages fetches the caller's visible history of a codelab.
func (c *Client) Messages(ctx context.Context, codelabID string, limit int) ([]MessageResponse, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp MessagesResponse
	if err := c.get(ctx, "/api/codelabs/"+url.PathEscape(codelabID)+"/messages", query, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// RequestHelp asks the facilitator for help on a step.
func (c *Client) RequestHelp(ctx context.Context, codelabID string, step int) (HelpRequestResponse, error) {
	var resp HelpRequestResponse
	err := c.post(ctx, "/api/codelabs/"+url.PathEscape(codelabID)+"/help", HelpRequestBody{StepNumber: step}, &resp)
	return resp, err
}

// ResolveHelp marks a help request resolved.
func (c *Client) ResolveHelp(ctx context.Context, codelabID, helpID string) (HelpRequestResponse, error) {
	var resp HelpRequestResponse
	path := "/api/codelabs/" + url.PathEscape(codelabID) + "/help/" + url.PathEscape(helpID) + "/resolve"
	err := c.post(ctx, path, nil, &resp)
	return resp, err
}

// PostComment adds a comment to a thread.
func (c *Client) PostComment(ctx context.Context, codelabID, threadID, body string) (CommentResponse, error) {
	var resp CommentResponse
	path := "/api/codelabs/" + url.PathEscape(codelabID) + "/comments/" + url.PathEscape(threadID)
	err := c.post(ctx, path, CommentBody{Body: body}, &resp)
	return resp, err
}
