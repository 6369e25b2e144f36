package channel

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/aegisflow/aegis/internal/approval"
	"github.com/aegisflow/aegis/internal/config"
	"github.com/aegisflow/aegis/internal/fault"
)

// TelegramChannel sends approval requests to a configured chat.
type TelegramChannel struct {
	cfg config.TelegramConfig
	bot *tgbotapi.BotAPI
}

// NewTelegram connects the bot. Token and chat id are required.
func NewTelegram(cfg config.TelegramConfig) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fault.Validation("channel.telegram", "token is required").WithChannel("telegram")
	}
	if cfg.ChatID == 0 {
		return nil, fault.Validation("channel.telegram", "chat_id is required").WithChannel("telegram")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fault.Integration("channel.telegram", err).WithChannel("telegram")
	}
	return &TelegramChannel{cfg: cfg, bot: bot}, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

// Deliver sends the request as an HTML message, falling back to plain
// text when Telegram rejects the markup.
func (c *TelegramChannel) Deliver(ctx context.Context, req *approval.Request) error {
	if c.bot == nil {
		return fault.Integration("channel.telegram", fmt.Errorf("bot not initialized")).WithChannel("telegram")
	}

	text := formatRequestHTML(req)
	msg := tgbotapi.NewMessage(c.cfg.ChatID, text)
	msg.ParseMode = "HTML"

	_, err := c.bot.Send(msg)
	if err != nil {
		msg.ParseMode = ""
		msg.Text = formatRequestText(req)
		_, err = c.bot.Send(msg)
	}
	if err != nil {
		return fault.Integration("channel.telegram", err).WithChannel("telegram").WithRequest(req.ID)
	}
	return nil
}

func formatRequestHTML(req *approval.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Approval needed</b> (%s risk)\n", req.RiskLevel)
	fmt.Fprintf(&b, "Task: <code>%s</code> [%s]\n", escapeHTML(req.TaskID), escapeHTML(req.TaskType))
	if req.Description != "" {
		fmt.Fprintf(&b, "%s\n", escapeHTML(req.Description))
	}
	if req.Reasoning != "" {
		fmt.Fprintf(&b, "Reasoning: %s\n", escapeHTML(req.Reasoning))
	}
	for _, alt := range req.Alternatives {
		fmt.Fprintf(&b, "Alternative: %s — %s\n", escapeHTML(alt.Action), escapeHTML(alt.Reasoning))
	}
	fmt.Fprintf(&b, "Expires: %s\nID: <code>%s</code>", req.ExpiresAt.Format("2006-01-02 15:04 MST"), req.ID)
	return b.String()
}

func formatRequestText(req *approval.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Approval needed (%s risk)\n", req.RiskLevel)
	fmt.Fprintf(&b, "Task: %s [%s]\n", req.TaskID, req.TaskType)
	if req.Description != "" {
		fmt.Fprintf(&b, "%s\n", req.Description)
	}
	if req.Reasoning != "" {
		fmt.Fprintf(&b, "Reasoning: %s\n", req.Reasoning)
	}
	fmt.Fprintf(&b, "Expires: %s\nID: %s", req.ExpiresAt.Format("2006-01-02 15:04 MST"), req.ID)
	return b.String()
}

func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
