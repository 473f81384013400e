package telegram

import (
	"Tradewarden/notification"
	"Tradewarden/utilities"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// CommandFunc answers a chat command such as /status.
type CommandFunc func(ctx context.Context) string

// Client pushes notifications to one Telegram chat and answers a few read-only commands.
type Client struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *utilities.Logger
}

var _ notification.Notifier = (*Client)(nil)

// NewClient connects to the Bot API. endpoint may be empty for the public API.
func NewClient(token string, chatID int64, endpoint string, logger *utilities.Logger) (*Client, error) {
	if token == "" {
		return nil, errors.New("telegram: bot token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram: chat id is not set")
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: 35 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	logger.LogInfo("Telegram: connected as @%s", bot.Self.UserName)
	return &Client{bot: bot, chatID: chatID, logger: logger}, nil
}

// SendMessage sends plain text to the configured chat.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

func (c *Client) Notify(ctx context.Context, ev notification.Event) error {
	return c.SendMessage(ctx, ev.Title()+"\n"+ev.Body())
}

// Listen answers commands from the configured chat until ctx is done.
// Messages from other chats are ignored.
func (c *Client) Listen(ctx context.Context, commands map[string]CommandFunc) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)
	defer c.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			c.dispatch(ctx, up, commands)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, up tgbotapi.Update, commands map[string]CommandFunc) {
	if up.Message == nil || up.Message.Chat == nil || up.Message.Chat.ID != c.chatID {
		return
	}
	c.handle(ctx, up.Message, commands)
}

func (c *Client) handle(ctx context.Context, m *tgbotapi.Message, commands map[string]CommandFunc) {
	if !m.IsCommand() {
		return
	}
	name := m.Command()
	fn, ok := commands[name]
	var reply string
	if ok {
		reply = fn(ctx)
	} else {
		names := make([]string, 0, len(commands))
		for k := range commands {
			names = append(names, "/"+k)
		}
		sort.Strings(names)
		reply = "Unknown command. Try " + strings.Join(names, ", ")
	}
	if err := c.SendMessage(ctx, reply); err != nil {
		c.logger.LogWarn("Telegram: reply to /%s failed: %v", name, err)
	}
}
