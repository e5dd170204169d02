// Package client talks to the dispatch endpoint over HTTP. Client satisfies
// bulk.Dispatcher, so the orchestrator can drive a remote endpoint.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/shineum/multimail/internal/bulk"
	"github.com/shineum/multimail/internal/dispatch"
)

// DefaultEndpoint is where `multimail serve` listens by default.
const DefaultEndpoint = "http://localhost:3000"

type Client struct {
	endpoint   string
	timeout    time.Duration
	userAgent  string
	httpClient *http.Client

	rest *resty.Client
}

type Option func(*Client) error

// New creates a Client. Without options it targets DefaultEndpoint with no
// request timeout.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		endpoint:  DefaultEndpoint,
		userAgent: "multimail",
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.httpClient != nil {
		c.rest = resty.NewWithClient(c.httpClient)
	} else {
		c.rest = resty.New()
	}
	c.rest.
		SetBaseURL(c.endpoint).
		SetTimeout(c.timeout).
		SetHeader("User-Agent", c.userAgent).
		SetHeader("Accept", "application/json")

	return c, nil
}

func WithEndpoint(endpoint string) Option {
	return func(c *Client) error {
		if endpoint == "" {
			return errors.New("endpoint is required")
		}
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return fmt.Errorf("invalid endpoint: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("invalid endpoint %q: scheme must be http or https", endpoint)
		}
		c.endpoint = strings.TrimRight(endpoint, "/")
		return nil
	}
}

// WithTimeout bounds each request. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		c.timeout = d
		return nil
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) error {
		c.userAgent = userAgent
		return nil
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// Endpoint returns the base URL requests are sent to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Dispatch posts one send request. A non-2xx answer is returned as a
// *bulk.RejectedError; anything that prevents an answer is returned wrapped.
func (c *Client) Dispatch(ctx context.Context, req bulk.SendRequest) error {
	var apiErr dispatch.ErrorResponse

	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(dispatch.SendEmailRequest{
			Recipient:   req.Recipient,
			Subject:     req.Subject,
			Message:     req.Message,
			EmailID:     req.Credentials.EmailID,
			AppPassword: req.Credentials.AppPassword,
		}).
		SetError(&apiErr).
		Post(dispatch.SendPath)
	if err != nil {
		return fmt.Errorf("post %s: %w", dispatch.SendPath, err)
	}

	if resp.IsSuccess() {
		return nil
	}

	msg := apiErr.Error
	if msg == "" {
		msg = strings.TrimSpace(resp.String())
	}
	return &bulk.RejectedError{StatusCode: resp.StatusCode(), Message: msg}
}
