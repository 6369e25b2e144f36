package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aegisflow/aegis/internal/approval"
	"github.com/aegisflow/aegis/internal/config"
	"github.com/aegisflow/aegis/internal/fault"
)

// WebhookChannel POSTs the full request JSON to an arbitrary endpoint,
// for integrations that want the structured record rather than a
// rendered message.
type WebhookChannel struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhook creates the channel. URL is required, bearer token optional.
func NewWebhook(cfg config.WebhookConfig) (*WebhookChannel, error) {
	if cfg.URL == "" {
		return nil, fault.Validation("channel.webhook", "url is required").WithChannel("webhook")
	}
	return &WebhookChannel{
		url:    cfg.URL,
		token:  cfg.Token,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *WebhookChannel) Name() string { return "webhook" }

// Deliver POSTs the request as JSON. Any 2xx status counts as accepted.
func (c *WebhookChannel) Deliver(ctx context.Context, req *approval.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fault.Integration("channel.webhook", err).WithChannel("webhook").WithRequest(req.ID)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fault.Integration("channel.webhook", err).WithChannel("webhook").WithRequest(req.ID)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fault.Integration("channel.webhook", err).WithChannel("webhook").WithRequest(req.ID)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fault.Integration("channel.webhook",
			fmt.Errorf("endpoint returned %d", resp.StatusCode)).WithChannel("webhook").WithRequest(req.ID)
	}
	return nil
}
