package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// MailConfig configures SMTP submission.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	// Password is the provider credential (API key for most relay services).
	Password string
	From     string
	FromName string
	// DialTimeout bounds connection setup when ctx carries no deadline.
	DialTimeout time.Duration
}

// MailChannel submits multipart/alternative email over SMTP with STARTTLS
// when the server offers it.
type MailChannel struct {
	cfg MailConfig
	now func() time.Time
}

func NewMailChannel(cfg MailConfig) (*MailChannel, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is empty")
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", cfg.From, err)
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &MailChannel{cfg: cfg, now: time.Now}, nil
}

func (c *MailChannel) Name() string { return "smtp" }

func (c *MailChannel) Send(ctx context.Context, msg Message) error {
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return ErrNoRecipient
	}
	if _, err := mail.ParseAddress(to); err != nil {
		return &ProviderError{Provider: "smtp", Code: CodeInvalidRecipient, Err: err}
	}

	var body bytes.Buffer
	if err := Compose(&body, c.cfg.FromName, c.cfg.From, msg, c.now()); err != nil {
		return fmt.Errorf("composing message: %w", err)
	}
	return c.submit(ctx, to, body.Bytes())
}

func (c *MailChannel) submit(ctx context.Context, to string, body []byte) error {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: c.cfg.Host}); err != nil {
			return err
		}
	}
	if c.cfg.Username != "" && c.cfg.Password != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)); err != nil {
				return &ProviderError{Provider: "smtp", Code: CodeAuth, Err: err}
			}
		}
	}
	if err := client.Mail(c.cfg.From); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// Compose writes msg as an RFC 5322 message with text and HTML alternatives.
func Compose(w io.Writer, fromName, from string, msg Message, date time.Time) error {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Name: fromName, Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	if rt := strings.TrimSpace(msg.ReplyTo); rt != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: rt}})
	}
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return err
	}

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return err
	}
	alt, err := mw.CreateInline()
	if err != nil {
		return err
	}
	if err := writeInline(alt, "text/plain", msg.Text); err != nil {
		return err
	}
	if msg.HTML != "" {
		if err := writeInline(alt, "text/html", msg.HTML); err != nil {
			return err
		}
	}
	if err := alt.Close(); err != nil {
		return err
	}
	return mw.Close()
}

func writeInline(alt *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	pw, err := alt.CreatePart(ph)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(pw, body); err != nil {
		_ = pw.Close()
		return err
	}
	return pw.Close()
}
