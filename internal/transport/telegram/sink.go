// Package telegram forwards delivered notifications to a Telegram chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	tele "gopkg.in/telebot.v4"

	"bgrefresh/internal/host"
	logx "bgrefresh/pkg/logx"
)

const telegramTextLimit = 4000

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
}

// sender is the slice of *tele.Bot the sink uses.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Sink implements host.DeliverySink by posting each notification as a message.
type Sink struct {
	bot  sender
	chat *tele.Chat
	opts *tele.SendOptions
	log  logx.Logger
}

var _ host.DeliverySink = (*Sink)(nil)

// New creates an offline bot: no getMe call and no update polling.
func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newSink(b, cfg, log), nil
}

func newSink(bot sender, cfg Config, log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{
		bot:  bot,
		chat: &tele.Chat{ID: cfg.ChatID},
		opts: &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
			ThreadID:              cfg.ThreadID,
		},
		log: log,
	}
}

func (s *Sink) Deliver(ctx context.Context, n host.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := s.bot.Send(s.chat, formatNotification(n), s.opts)
	if err != nil {
		return fmt.Errorf("telegram send %s: %w", n.Request.ID, err)
	}
	s.log.Debug("notification forwarded to telegram", logx.String("id", n.Request.ID), logx.Int("message_id", msg.ID))
	return nil
}

func formatNotification(n host.Notification) string {
	var b strings.Builder
	if t := strings.TrimSpace(n.Request.Title); t != "" {
		b.WriteString("<b>")
		b.WriteString(html.EscapeString(t))
		b.WriteString("</b>\n")
	}
	b.WriteString(html.EscapeString(n.Request.Body))
	return truncateRunes(b.String(), telegramTextLimit)
}

func truncateRunes(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit-1]) + "…"
}
