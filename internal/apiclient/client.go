// Package apiclient talks to the relay's REST API on behalf of one user.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"secureconnect-sync/internal/domain"
	apperrors "secureconnect-sync/pkg/errors"
	"secureconnect-sync/pkg/logger"
	"secureconnect-sync/pkg/resilience"
	"secureconnect-sync/pkg/response"
)

// Config holds the relay address and credentials
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	HTTPClient  *http.Client
	// Breaker guards every request; a default one is created when nil
	Breaker *resilience.Breaker
}

// Client is an authenticated relay REST client
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *resilience.Breaker
	log        *zap.Logger
}

// New creates a client for cfg.BaseURL
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("apiclient: base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("apiclient: invalid base url %q: %w", cfg.BaseURL, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	breaker := cfg.Breaker
	if breaker == nil {
		breaker = resilience.NewBreaker("relay_api", resilience.Config{IsFailure: isRelayFailure})
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.AccessToken,
		httpClient: httpClient,
		breaker:    breaker,
		log:        logger.Named("apiclient"),
	}, nil
}

// SendMessage stores a message and returns its authoritative form
func (c *Client) SendMessage(ctx context.Context, receiverID, content string) (*domain.Message, error) {
	var msg domain.Message
	err := c.do(ctx, http.MethodPost, "/v1/messages", domain.SendMessageRequest{
		ReceiverID: receiverID,
		Content:    content,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateMessageStatus reports a delivery receipt
func (c *Client) UpdateMessageStatus(ctx context.Context, messageID string, status domain.DeliveryStatus) error {
	path := fmt.Sprintf("/v1/messages/%s/status?status=%s", url.PathEscape(messageID), url.QueryEscape(string(status)))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// GetMessages returns the conversation with peerID
func (c *Client) GetMessages(ctx context.Context, peerID string) ([]domain.Message, error) {
	var msgs []domain.Message
	if err := c.do(ctx, http.MethodGet, "/v1/messages/"+url.PathEscape(peerID), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendSignal forwards a call signal through the relay
func (c *Client) SendSignal(ctx context.Context, sig domain.Signal) error {
	return c.do(ctx, http.MethodPost, "/v1/call/signal", sig, nil)
}

// UpdateStatus advertises the user's presence
func (c *Client) UpdateStatus(ctx context.Context, status domain.PresenceStatus) error {
	return c.do(ctx, http.MethodPost, "/v1/users/status", domain.UpdatePresenceRequest{Status: status}, nil)
}

// GetStatus returns the last advertised presence of userID
func (c *Client) GetStatus(ctx context.Context, userID string) (*domain.Presence, error) {
	var p domain.Presence
	if err := c.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(userID)+"/status", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// isRelayFailure reports whether err means the relay is unhealthy rather
// than that it rejected the request
func isRelayFailure(err error) bool {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		return false
	}
	return appErr.Code == apperrors.ErrCodeTransport || appErr.StatusCode >= http.StatusInternalServerError
}

// do sends a JSON request through the breaker
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	err := c.breaker.Execute(ctx, method+" "+routeOf(path), func(ctx context.Context) error {
		return c.roundTrip(ctx, method, path, body, out)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return apperrors.Transport("relay temporarily unavailable", err)
	}
	return err
}

// routeOf trims ids from path so metric labels stay bounded
func routeOf(path string) string {
	path, _, _ = strings.Cut(path, "?")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return "/" + strings.Join(parts, "/")
}

// roundTrip sends a JSON request and decodes the envelope's data into out.
// Relay errors come back as AppErrors carrying the relay's code.
func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Transport(fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Transport("failed to read response", err)
	}

	var env response.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return apperrors.WrapWithStatus(apperrors.ErrCodeTransport,
			fmt.Sprintf("unexpected response from %s (%d)", path, resp.StatusCode), resp.StatusCode, err)
	}

	if resp.StatusCode >= 300 || !env.Success {
		code, msg := apperrors.ErrCodeInternal, http.StatusText(resp.StatusCode)
		if env.Error != nil {
			code, msg = apperrors.ErrorCode(env.Error.Code), env.Error.Message
		}
		c.log.Debug("Relay request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", string(code)))
		return apperrors.NewWithStatus(code, msg, resp.StatusCode)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
