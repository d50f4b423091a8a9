package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"wablast/config"
)

// Client talks to the messaging gateway over its REST API.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *fasthttp.Client
	logger  *logrus.Entry
}

func NewClient(cfg config.GatewayConfig, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		http:    &fasthttp.Client{},
		logger:  logger.WithField("component", "gateway"),
	}
}

type sessionStatusResponse struct {
	Connected bool `json:"connected"`
}

type checkResponse struct {
	Registered bool `json:"registered"`
}

type sendRequest struct {
	UserID    uint   `json:"user_id"`
	Phone     string `json:"phone"`
	Body      string `json:"body"`
	MediaURL  string `json:"media_url,omitempty"`
	MediaKind string `json:"media_kind,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

func (c *Client) IsSessionReady(ctx context.Context, userID uint) bool {
	var out sessionStatusResponse
	url := fmt.Sprintf("%s/api/sessions/%d/status", c.baseURL, userID)
	if err := c.doJSON(ctx, fasthttp.MethodGet, url, nil, &out); err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Warn("session status check failed")
		return false
	}
	return out.Connected
}

func (c *Client) IsRegistered(ctx context.Context, userID uint, phone string) (bool, error) {
	var out checkResponse
	url := fmt.Sprintf("%s/api/sessions/%d/check/%s", c.baseURL, userID, phone)
	if err := c.doJSON(ctx, fasthttp.MethodGet, url, nil, &out); err != nil {
		return false, err
	}
	return out.Registered, nil
}

func (c *Client) SendText(ctx context.Context, userID uint, phone, body string) (string, error) {
	req := sendRequest{UserID: userID, Phone: phone, Body: body}
	return c.send(ctx, c.baseURL+"/api/messages/text", req)
}

func (c *Client) SendMedia(ctx context.Context, userID uint, phone, body, mediaURL, mediaKind string) (string, error) {
	req := sendRequest{UserID: userID, Phone: phone, Body: body, MediaURL: mediaURL, MediaKind: mediaKind}
	return c.send(ctx, c.baseURL+"/api/messages/media", req)
}

func (c *Client) send(ctx context.Context, url string, payload sendRequest) (string, error) {
	var out sendResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, url, payload, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("gateway send: %s", out.Error)
	}
	return out.MessageID, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, body interface{}, out interface{}) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(url)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		req.Header.SetContentType("application/json")
		req.SetBody(data)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}

	status := resp.StatusCode()
	switch {
	case status == fasthttp.StatusServiceUnavailable:
		return ErrSessionNotReady
	case status >= 400:
		return fmt.Errorf("gateway returned status %d: %s", status, resp.Body())
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("gateway response decode: %w", err)
		}
	}
	return nil
}
