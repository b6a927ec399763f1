// Package push delivers notifications through an FCM-style HTTP push
// gateway.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/flow-alert-service/internal/domain"
)

// Notification is the user-visible part of a push message.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Payload is the wire format accepted by the push gateway. Data is the
// typed alert payload the client app uses for deep-link routing.
type Payload struct {
	Token        string                  `json:"token"`
	Notification Notification            `json:"notification"`
	Data         domain.NotificationData `json:"data"`
}

// Client posts push payloads to the delivery gateway.
type Client struct {
	gatewayURL string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a push gateway client.
func NewClient(gatewayURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		gatewayURL: gatewayURL,
		apiKey:     apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Push sends one notification to one device token.
func (c *Client) Push(ctx context.Context, token string, n Notification, data domain.NotificationData) error {
	body, err := json.Marshal(Payload{Token: token, Notification: n, Data: data})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("push gateway error: status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}
