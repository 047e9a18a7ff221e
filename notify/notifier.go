// Package notify delivers alerts through outbound channels and enforces
// per-urgency cooldowns so a flapping check cannot flood operators.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notification is one outbound alert message.
type Notification struct {
	Subject  string            `json:"subject"`
	Message  string            `json:"message"`
	Urgency  int               `json:"urgency"`
	Category string            `json:"category"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Notifier sends a notification and reports which channels delivered it.
type Notifier interface {
	Send(ctx context.Context, n Notification) ([]string, error)
}

// ChannelNotifier fans a notification out to every configured channel.
// One channel failing does not stop the others; the returned error joins
// all channel failures.
type ChannelNotifier struct {
	webhookURL string
	slackURL   string
	client     *http.Client
	logger     *zap.SugaredLogger
}

// NewChannelNotifier builds a notifier for the configured webhook and
// Slack endpoints. Either URL may be empty to disable that channel.
func NewChannelNotifier(webhookURL, slackURL string, logger *zap.SugaredLogger) *ChannelNotifier {
	return &ChannelNotifier{
		webhookURL: webhookURL,
		slackURL:   slackURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
		logger: logger,
	}
}

// Send implements Notifier.
func (c *ChannelNotifier) Send(ctx context.Context, n Notification) ([]string, error) {
	var channels []string
	var errs []error

	if c.webhookURL != "" {
		if err := c.sendWebhook(ctx, n); err != nil {
			c.logger.Errorw("Failed to send webhook notification", "subject", n.Subject, "error", err)
			errs = append(errs, err)
		} else {
			channels = append(channels, "webhook")
		}
	}

	if c.slackURL != "" {
		if err := c.sendSlack(ctx, n); err != nil {
			c.logger.Errorw("Failed to send Slack notification", "subject", n.Subject, "error", err)
			errs = append(errs, err)
		} else {
			channels = append(channels, "slack")
		}
	}

	return channels, errors.Join(errs...)
}

func (c *ChannelNotifier) sendWebhook(ctx context.Context, n Notification) error {
	payload := map[string]interface{}{
		"subject":   n.Subject,
		"message":   n.Message,
		"urgency":   n.Urgency,
		"category":  n.Category,
		"metadata":  n.Metadata,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Watchtower/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

func (c *ChannelNotifier) sendSlack(ctx context.Context, n Notification) error {
	color := "#36a64f"
	switch {
	case n.Urgency >= 5:
		color = "#d32f2f"
	case n.Urgency == 4:
		color = "#e65100"
	case n.Urgency == 3:
		color = "#f9a825"
	}

	payload := map[string]interface{}{
		"text": fmt.Sprintf("*%s*", n.Subject),
		"attachments": []map[string]interface{}{
			{
				"color": color,
				"text":  n.Message,
				"fields": []map[string]interface{}{
					{"title": "Urgency", "value": fmt.Sprintf("%d", n.Urgency), "short": true},
					{"title": "Category", "value": n.Category, "short": true},
				},
				"footer": "Watchtower",
				"ts":     time.Now().Unix(),
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.slackURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create Slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack notification returned non-OK status: %d", resp.StatusCode)
	}
	return nil
}
