package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL    = "https://api.anthropic.com"
	defaultAPIVersion = "2023-06-01"
	defaultTimeout    = 2 * time.Minute
	maxResponseBytes  = 4 << 20
)

// Option configures a Client.
type Option func(*Client)

// Client posts conversation history to the completion backend and returns the
// assistant text.
type Client struct {
	// BaseURL defaults to https://api.anthropic.com
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
}

// WithHTTPClient allows supplying a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.HTTPClient = client
	}
}

// WithBaseURL overrides the default API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.BaseURL = normalizeBaseURL(baseURL)
	}
}

// WithTimeout bounds each completion request. A timed out request is
// reported as a network failure. The timeout is set on a copy so a shared
// client passed to WithHTTPClient is left untouched.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := &http.Client{}
		if c.HTTPClient != nil {
			copied := *c.HTTPClient
			hc = &copied
		}
		hc.Timeout = d
		c.HTTPClient = hc
	}
}

// WithAPIVersion sets the anthropic-version header value.
func WithAPIVersion(v string) Option {
	return func(c *Client) {
		if strings.TrimSpace(v) != "" {
			c.APIVersion = v
		}
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		BaseURL:    defaultBaseURL,
		APIVersion: defaultAPIVersion,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	client.ensureDefaults()
	return client
}

// Message is one entry of the history sent to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the JSON body of POST /v1/messages.
type Request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []Message `json:"messages"`
}

type envelope struct {
	Content []struct {
		Type string  `json:"type"`
		Text *string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the request authenticated with apiKey and returns the text
// of the first content block. Every failure is an *Error.
func (c *Client) Complete(ctx context.Context, apiKey string, reqBody Request) (string, error) {
	c.ensureDefaults()

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", &Error{Kind: KindMalformed, Message: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Kind: KindNetwork, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("anthropic-version", c.APIVersion)
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", &Error{Kind: KindCanceled, Message: "request canceled", Err: ctx.Err()}
		}
		return "", &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return "", &Error{Kind: KindCanceled, Message: "request canceled", Err: ctx.Err()}
		}
		return "", &Error{Kind: KindNetwork, Message: "read response: " + err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", parseAPIError(resp, body)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", &Error{Kind: KindMalformed, Message: "malformed response: " + err.Error(), Err: err}
	}
	if env.Error != nil {
		msg := env.Error.Message
		if msg == "" {
			msg = env.Error.Type
		}
		return "", &Error{Kind: KindBackend, Message: msg}
	}
	if len(env.Content) == 0 || env.Content[0].Text == nil {
		return "", &Error{Kind: KindMalformed, Message: "malformed response: missing content[0].text"}
	}

	return *env.Content[0].Text, nil
}

func parseAPIError(resp *http.Response, body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && (env.Error.Message != "" || env.Error.Type != "") {
		msg := env.Error.Message
		if msg == "" {
			msg = env.Error.Type
		}
		return &Error{Kind: KindStatus, Status: resp.StatusCode, Message: msg}
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return &Error{Kind: KindStatus, Status: resp.StatusCode, Message: fmt.Sprintf("unexpected status %s", resp.Status)}
	}
	return &Error{Kind: KindStatus, Status: resp.StatusCode, Message: fmt.Sprintf("unexpected status %s: %s", resp.Status, trimmed)}
}

func (c *Client) ensureDefaults() {
	c.BaseURL = normalizeBaseURL(c.BaseURL)
	if c.APIVersion == "" {
		c.APIVersion = defaultAPIVersion
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
}

func normalizeBaseURL(baseURL string) string {
	if baseURL == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(baseURL, "/")
}

// Describe returns the human readable failure description used in the
// synthetic assistant message.
func Describe(err error) string {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
