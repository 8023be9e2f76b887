// Package backend talks to the remote sync service that mirrors the
// device's message history. All calls go over fasthttp with explicit
// deadlines; an expired token surfaces as ErrUnauthorized so callers can
// re-register before retrying.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/luzzy/message-sync/pkg/logger"
	"github.com/valyala/fasthttp"
)

var (
	ErrUnauthorized = errors.New("backend: unauthorized")
	ErrRejected     = errors.New("backend: request rejected")
)

// RegisterRequest enrolls this device with the backend. The registration
// token comes from the push provider and lets the backend address this
// device.
type RegisterRequest struct {
	Phone             string `json:"phone"`
	RegistrationToken string `json:"registrationToken"`
}

type RegisterResponse struct {
	Token string `json:"token"`
}

// UploadMessage is one message in an upload batch. From is the device
// number for outbound messages and the peer for inbound ones.
type UploadMessage struct {
	From      string `json:"from"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// UploadRequest mirrors a slice of one conversation to the backend.
type UploadRequest struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Messages []UploadMessage `json:"messages"`
}

type Config struct {
	BaseURL         string
	Timeout         time.Duration
	MaxConns        int
	ReadBufferSize  int
	WriteBufferSize int
}

type Client struct {
	config *Config
	client *fasthttp.Client
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	httpClient := &fasthttp.Client{
		MaxConnsPerHost:     config.MaxConns,
		ReadTimeout:         config.Timeout,
		WriteTimeout:        config.Timeout,
		MaxIdleConnDuration: 60 * time.Second,
		ReadBufferSize:      config.ReadBufferSize,
		WriteBufferSize:     config.WriteBufferSize,
	}

	logger.Info("backend client initialized", "base_url", config.BaseURL, "timeout", config.Timeout)

	return &Client{config: config, client: httpClient}, nil
}

// Register exchanges the device identity for a bearer token.
func (c *Client) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	response, err := c.doRequest(ctx, "POST", "/register", "", body)
	if err != nil {
		return nil, err
	}

	var resp RegisterResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrRejected)
	}

	logger.Info("device registered", "phone", req.Phone)
	return &resp, nil
}

// Upload pushes one conversation batch. The call is idempotent on the
// backend side, keyed by message content and timestamp, so a retried batch
// never duplicates history.
func (c *Client) Upload(ctx context.Context, token string, req *UploadRequest) error {
	if len(req.Messages) == 0 {
		return nil
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	_, err = c.doRequest(ctx, "POST", "/messages", token, body)
	if err != nil {
		return err
	}

	logger.Info("batch uploaded", "to", req.To, "messages", len(req.Messages), "latency_ms", time.Since(start).Milliseconds())
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path, token string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	switch {
	case statusCode == fasthttp.StatusUnauthorized:
		return nil, ErrUnauthorized
	case statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusAccepted:
		return nil, fmt.Errorf("%w: status code %d, body: %s", ErrRejected, statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())
	return result, nil
}
