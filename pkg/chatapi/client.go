// Package chatapi is a typed HTTP client for the conversation backend: the
// streaming chat route and the conversation CRUD routes. The relay speaks the
// same routes, so the client also serves CLI callers of a relay.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/papercomputeco/chatrelay/pkg/chat"
	"github.com/papercomputeco/chatrelay/pkg/logger"
	"github.com/papercomputeco/chatrelay/pkg/utils"
)

const (
	// StreamPath is the streaming chat route.
	StreamPath = "/chat/stream"

	// DefaultTimeout bounds CRUD calls and the wait for stream response
	// headers. An open stream is never cut by it.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 4 * 1024
)

// StatusError is returned by CRUD calls answered with a non-2xx status.
type StatusError struct {
	StatusCode int

	// Message is the "error" field of the response body, or the raw body when
	// it is not an error JSON object.
	Message string

	// Body is the raw, possibly truncated, response body.
	Body []byte
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// Client talks to one backend (or relay) base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// streamClient has no overall timeout; it only bounds the wait for
	// response headers.
	streamClient *http.Client

	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger. Defaults to a no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
		if t, ok := c.streamClient.Transport.(*http.Transport); ok {
			t.ResponseHeaderTimeout = d
		}
	}
}

// New creates a client for baseURL, e.g. "http://localhost:8000".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must use http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", baseURL)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = DefaultTimeout

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		streamClient: &http.Client{
			Transport: transport,
		},
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// BaseURL returns the URL the client was created with, without a trailing
// slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// OpenStream posts req to the streaming route and returns the response once
// its headers arrived. The caller owns resp.Body and must close it; the body
// stays bound to ctx. header is copied onto the request and may be nil.
//
// A transport failure or a non-2xx status returns a
// *chat.UpstreamUnavailableError and no response.
func (c *Client) OpenStream(ctx context.Context, req chat.Request, header http.Header) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+StreamPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating stream request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	c.logger.Debug("opening stream",
		"url", c.baseURL+StreamPath,
		"conversation_id", req.Conversation(),
		"user_id", req.UserID,
	)

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, &chat.UpstreamUnavailableError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &chat.UpstreamUnavailableError{
			StatusCode: resp.StatusCode,
			Body:       string(errBody),
		}
	}

	return resp, nil
}

// ListConversations returns the conversations of userID.
func (c *Client) ListConversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, chat.ErrMissingUserID
	}

	var out []chat.Conversation
	path := "/conversations?user_id=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return out, nil
}

// CreateConversation creates an empty conversation.
func (c *Client) CreateConversation(ctx context.Context, req chat.CreateConversationRequest) (*chat.Conversation, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, chat.ErrMissingUserID
	}

	out := &chat.Conversation{}
	if err := c.do(ctx, http.MethodPost, "/conversations", req, out); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return out, nil
}

// RenameConversation sets the title of conversation id.
func (c *Client) RenameConversation(ctx context.Context, id, title string) (*chat.Conversation, error) {
	if id == "" {
		return nil, chat.ErrMissingConversationID
	}

	out := &chat.Conversation{}
	req := chat.RenameConversationRequest{Title: title}
	if err := c.do(ctx, http.MethodPatch, conversationPath(id), req, out); err != nil {
		return nil, fmt.Errorf("renaming conversation %s: %w", id, err)
	}
	return out, nil
}

// DeleteConversation deletes conversation id and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	if id == "" {
		return chat.ErrMissingConversationID
	}

	var out chat.DeleteConversationResponse
	if err := c.do(ctx, http.MethodDelete, conversationPath(id), nil, &out); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	if !out.Success {
		return fmt.Errorf("deleting conversation %s: backend did not confirm", id)
	}
	return nil
}

// ListMessages returns the stored messages of conversation id, oldest first.
func (c *Client) ListMessages(ctx context.Context, id string) ([]chat.Message, error) {
	if id == "" {
		return nil, chat.ErrMissingConversationID
	}

	var out []chat.Message
	if err := c.do(ctx, http.MethodGet, conversationPath(id)+"/messages", nil, &out); err != nil {
		return nil, fmt.Errorf("listing messages of %s: %w", id, err)
	}
	return out, nil
}

// Health returns the backend health document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, fmt.Errorf("checking health: %w", err)
	}
	return out, nil
}

func conversationPath(id string) string {
	return "/conversations/" + url.PathEscape(id)
}

// do sends a JSON request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
			Body:       raw,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var er chat.ErrorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Error != "" {
		return er.Error
	}
	return utils.Truncate(strings.TrimSpace(string(raw)), 256)
}
