// File: notification/discord/dclient.go
package discord

import (
	"Tradewarden/notification"
	"Tradewarden/utilities"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Embed colours.
const (
	colorGreen = 3066993
	colorRed   = 15158332
	colorBlue  = 3447003
	colorGrey  = 9807270
)

// Client sends notifications to a Discord webhook.
type Client struct {
	webhookURL string
	HTTPClient *http.Client
	logger     *utilities.Logger
}

var _ notification.Notifier = (*Client)(nil)

// DiscordMessage represents the structure for a Discord webhook message.
// See: https://discord.com/developers/docs/resources/webhook#execute-webhook
type DiscordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

// DiscordEmbed represents an embed object in a Discord message.
type DiscordEmbed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"` // ISO8601 timestamp
	Color       int    `json:"color,omitempty"`
}

func NewClient(webhookURL string, logger *utilities.Logger) *Client {
	if webhookURL == "" {
		logger.LogWarn("Discord Client: Webhook URL is empty. Notifications will not be sent.")
	} else {
		logger.LogInfo("Discord Client initialized with webhook URL.")
	}

	return &Client{
		webhookURL: webhookURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// SendMessage sends a simple text message to the configured Discord webhook.
func (c *Client) SendMessage(ctx context.Context, message string) error {
	if c.webhookURL == "" {
		c.logger.LogDebug("Discord SendMessage: Webhook URL is not set, skipping.")
		return nil
	}
	if strings.TrimSpace(message) == "" {
		c.logger.LogDebug("Discord SendMessage: Message is empty, skipping.")
		return nil
	}
	return c.sendPayload(ctx, DiscordMessage{Content: message})
}

// SendEmbedMessage sends a message with one or more embeds.
func (c *Client) SendEmbedMessage(ctx context.Context, embeds ...DiscordEmbed) error {
	if c.webhookURL == "" {
		c.logger.LogDebug("Discord SendEmbedMessage: Webhook URL is not set, skipping.")
		return nil
	}
	if len(embeds) == 0 {
		return nil
	}
	return c.sendPayload(ctx, DiscordMessage{Embeds: embeds})
}

// Notify renders ev as an embed coloured by outcome.
func (c *Client) Notify(ctx context.Context, ev notification.Event) error {
	if c.webhookURL == "" {
		return nil
	}
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return c.SendEmbedMessage(ctx, DiscordEmbed{
		Title:       ev.Title(),
		Description: ev.Body(),
		Color:       embedColor(ev),
		Timestamp:   ts.UTC().Format(time.RFC3339),
	})
}

func embedColor(ev notification.Event) int {
	switch ev.Kind {
	case notification.KindOrderFilled:
		if strings.EqualFold(ev.Side, "SELL") {
			return colorRed
		}
		return colorGreen
	case notification.KindTradeClosed:
		if ev.PnL >= 0 {
			return colorGreen
		}
		return colorRed
	case notification.KindOrderRejected, notification.KindLedgerFailure:
		return colorRed
	case notification.KindTradeExpired, notification.KindShutdown:
		return colorGrey
	}
	return colorBlue
}

func (c *Client) sendPayload(ctx context.Context, payload DiscordMessage) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord message: %w", err)
	}

	c.logger.LogDebug("Discord sendPayload: Sending to webhook. Payload size: %d bytes", len(payloadBytes))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payloadBytes))
	if err != nil {
		return fmt.Errorf("failed to create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Tradewarden/1.0")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("discord API error: %s, response: %s", resp.Status, string(bodyBytes))
}
