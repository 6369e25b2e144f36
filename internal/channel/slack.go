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

// SlackChannel posts approval requests to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

// NewSlack creates the channel. The webhook URL is required.
func NewSlack(cfg config.SlackConfig) (*SlackChannel, error) {
	if cfg.WebhookURL == "" {
		return nil, fault.Validation("channel.slack", "webhook_url is required").WithChannel("slack")
	}
	return &SlackChannel{
		webhookURL: cfg.WebhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *SlackChannel) Name() string { return "slack" }

// Deliver posts a text payload in the incoming-webhook format.
func (c *SlackChannel) Deliver(ctx context.Context, req *approval.Request) error {
	payload := map[string]string{"text": formatRequestText(req)}
	body, err := json.Marshal(payload)
	if err != nil {
		return fault.Integration("channel.slack", err).WithChannel("slack").WithRequest(req.ID)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fault.Integration("channel.slack", err).WithChannel("slack").WithRequest(req.ID)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fault.Integration("channel.slack", err).WithChannel("slack").WithRequest(req.ID)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fault.Integration("channel.slack",
			fmt.Errorf("webhook returned %d", resp.StatusCode)).WithChannel("slack").WithRequest(req.ID)
	}
	return nil
}
