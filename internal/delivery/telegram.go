package delivery

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"finpipe/pkg/tgui"
)

// Telegram caps a message at 4096 characters.
const telegramTextLimit = 4000

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
}

// TelegramChannel posts the plain-text part to a fixed admin chat. msg.To is
// ignored; the chat is the recipient.
type TelegramChannel struct {
	cfg  TelegramConfig
	send func(to *tele.Chat, text string, opt *tele.SendOptions) error
}

func NewTelegramChannel(cfg TelegramConfig) (*TelegramChannel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	// Offline skips the getMe round trip; this bot never polls.
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, err
	}
	return &TelegramChannel{
		cfg: cfg,
		send: func(to *tele.Chat, text string, opt *tele.SendOptions) error {
			_, err := bot.Send(to, text, opt)
			return err
		},
	}, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Send(ctx context.Context, msg Message) error {
	text := TelegramText(msg)
	errc := make(chan error, 1)
	go func() {
		errc <- c.send(&tele.Chat{ID: c.cfg.ChatID}, text, &tele.SendOptions{
			DisableWebPagePreview: true,
			ParseMode:             tele.ModeHTML,
			ThreadID:              c.cfg.ThreadID,
		})
	}()
	select {
	case err := <-errc:
		if err != nil {
			return &ProviderError{Provider: "telegram", Code: classifyText(err.Error()), Err: err}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendAlert lets the channel back the log alert sink.
func (c *TelegramChannel) SendAlert(ctx context.Context, text string) error {
	return c.Send(ctx, Message{Subject: "alert", Text: text})
}

// TelegramText renders a message as Telegram HTML: bold subject, escaped
// body, reply-to footer. The body is cut so the visible text stays within
// the limit.
func TelegramText(msg Message) string {
	var head, foot string
	if s := strings.TrimSpace(msg.Subject); s != "" {
		head = s + "\n\n"
	}
	if msg.ReplyTo != "" {
		foot = "\n\nReply to: " + msg.ReplyTo
	}
	budget := telegramTextLimit - utf8.RuneCountInString(head) - utf8.RuneCountInString(foot)
	body := tgui.TruncRunes(strings.TrimSpace(msg.Text), budget)

	var out tgui.H
	if head != "" {
		out = tgui.B(strings.TrimSpace(msg.Subject)) + "\n\n"
	}
	out += tgui.Esc(body)
	if foot != "" {
		out += "\n\n" + tgui.I("Reply to: "+msg.ReplyTo)
	}
	return out.String()
}

// AlertSender adapts any Channel to the logger's alert sink, addressing
// alerts to a fixed mailbox.
type AlertSender struct {
	Channel Channel
	To      string
	Prefix  string
}

func (a AlertSender) SendAlert(ctx context.Context, text string) error {
	subject := a.Prefix
	if subject == "" {
		subject = "finpipe alert"
	}
	if line, _, _ := strings.Cut(text, "\n"); line != "" {
		subject += ": " + line
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return a.Channel.Send(ctx, Message{To: a.To, Subject: subject, Text: text})
}
