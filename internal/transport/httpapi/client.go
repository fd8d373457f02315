package httpapi

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

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/transport"
)

// #region client-struct

// Client is a transport.Client that talks to a gateway Server.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	now     func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBearerKey sends key as a bearer token.
func WithBearerKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout bounds each call. Zero means no per-call timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// ErrUnauthorized is returned when the gateway refuses the API key.
var ErrUnauthorized = errors.New("gateway rejected credentials")

// #endregion client-struct

// #region constructor

// NewClient returns a client for the gateway at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: 10 * time.Second,
		http:    http.DefaultClient,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// #endregion constructor

// #region calls

// RegisterProtocol implements transport.Client.
func (c *Client) RegisterProtocol(ctx context.Context, agentID string, desc protocol.Descriptor) (transport.Result, error) {
	return c.post(ctx, "register", PathRegister, registerRequest{AgentID: agentID, Protocol: desc})
}

// SubmitReport implements transport.Client.
func (c *Client) SubmitReport(ctx context.Context, r protocol.Report) (transport.Result, error) {
	return c.post(ctx, "report", PathReport, r)
}

// SendMessage implements transport.Client.
func (c *Client) SendMessage(ctx context.Context, agentID, to, content string, ref *protocol.Ref) (transport.Result, error) {
	return c.post(ctx, "send", PathSend, sendRequest{
		From:     agentID,
		To:       to,
		Content:  content,
		Protocol: ref,
		TS:       protocol.UnixSeconds(c.now()),
	})
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathHealth, nil)
	if err != nil {
		return "", fmt.Errorf("health: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", transport.Transient("health", err)
	}
	defer resp.Body.Close()

	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return "", transport.Transient("health", fmt.Errorf("decode: %w", err))
	}
	if !h.OK {
		return "", transport.Transient("health", fmt.Errorf("gateway unhealthy: %s", h.Message))
	}
	return h.Message, nil
}

// #endregion calls

// #region post

func (c *Client) post(ctx context.Context, op, path string, payload any) (transport.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return transport.Result{}, fmt.Errorf("%s: encode: %w", op, err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return transport.Result{}, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transport.Result{}, transport.Transient(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transport.Result{}, transport.Transient(op, fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode >= 500:
		return transport.Result{}, transport.Transient(op, fmt.Errorf("gateway status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized:
		return transport.Result{}, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	var res transport.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return transport.Result{}, fmt.Errorf("%s: decode status %d: %w", op, resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 && res.OK {
		return transport.Result{}, fmt.Errorf("%s: status %d with ok envelope", op, resp.StatusCode)
	}
	if resp.StatusCode >= 300 && res.Error == "" {
		res.Error = http.StatusText(resp.StatusCode)
	}
	return res, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// #endregion post
