// Package render turns notification events into email content.
//
// Render is pure: the same event and generatedAt always produce the same
// bytes. Templates are embedded; brand and dashboard link come from config.
package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/shopspring/decimal"

	"finpipe/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// ErrUnsupportedEvent is returned for a (kind, action) pair with no template.
var ErrUnsupportedEvent = errors.New("unsupported notification event")

// Message is rendered content, not yet addressed.
type Message struct {
	Subject string
	HTML    string
	Text    string
	// ReplyTo is set on admin alerts so a reply reaches the user.
	ReplyTo string
}

type Options struct {
	Brand        string
	DashboardURL string
}

type Engine struct {
	opts Options
	html *htmltemplate.Template
	text *texttemplate.Template
}

// New parses the embedded templates.
func New(opts Options) (*Engine, error) {
	if strings.TrimSpace(opts.Brand) == "" {
		opts.Brand = "Finpipe"
	}
	h, err := htmltemplate.ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing html templates: %w", err)
	}
	t, err := texttemplate.ParseFS(templateFS, "templates/*.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing text templates: %w", err)
	}
	return &Engine{opts: opts, html: h, text: t}, nil
}

// MustNew is New for static wiring and tests.
func MustNew(opts Options) *Engine {
	e, err := New(opts)
	if err != nil {
		panic(err)
	}
	return e
}

type subjectFunc func(v view) string

var subjects = map[string]subjectFunc{
	"investment.request":     func(v view) string { return "Investment request received: " + v.Plan },
	"investment.admin_alert": func(v view) string { return fmt.Sprintf("New investment request: %s from %s", v.Amount, v.Name) },
	"investment.approve":     func(v view) string { return "Your investment has been approved: " + v.Plan },
	"investment.reject":      func(v view) string { return "Update on your investment request: " + v.Plan },
	"investment.matured":     func(v view) string { return "Your investment has matured: " + v.Plan },
	"withdrawal.request":     func(v view) string { return "Withdrawal request received: " + v.Amount },
	"withdrawal.admin_alert": func(v view) string { return fmt.Sprintf("New withdrawal request: %s from %s", v.Amount, v.Name) },
	"withdrawal.approve":     func(v view) string { return "Your withdrawal has been processed: " + v.Amount },
	"withdrawal.reject":      func(v view) string { return "Update on your withdrawal request: " + v.Amount },
	"maturity_batch":         func(v view) string { return fmt.Sprintf("Maturity run: %d investment(s) matured", v.Count) },
}

// Render builds the message for ev. generatedAt is printed in the footer.
func (e *Engine) Render(ev model.NotificationEvent, generatedAt time.Time) (Message, error) {
	name := ev.Name()
	subject, ok := subjects[name]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, name)
	}
	v, err := e.buildView(ev, generatedAt)
	if err != nil {
		return Message{}, err
	}

	var hb, tb bytes.Buffer
	if err := e.html.ExecuteTemplate(&hb, name, v); err != nil {
		return Message{}, fmt.Errorf("rendering %s html: %w", name, err)
	}
	if err := e.text.ExecuteTemplate(&tb, name, v); err != nil {
		return Message{}, fmt.Errorf("rendering %s text: %w", name, err)
	}

	msg := Message{
		Subject: subject(v),
		HTML:    hb.String(),
		Text:    strings.TrimSpace(tb.String()) + "\n",
	}
	if ev.Action == model.ActionAdminAlert {
		msg.ReplyTo = strings.TrimSpace(ev.User.Email)
	}
	return msg, nil
}

// view is the flat, preformatted template data.
type view struct {
	Brand        string
	DashboardURL string
	GeneratedAt  string

	Name  string
	Email string

	RequestID      string
	Plan           string
	Amount         string
	ExpectedReturn string
	Profit         string
	Duration       int
	Rate           string
	PaymentMethod  string
	Wallet         string
	MaturityDate   string

	Reason string
	TxHash string

	Count         int
	Summary       string
	Matured       []maturedRow
	TotalInvested string
	TotalReturn   string
}

type maturedRow struct {
	Name         string
	Email        string
	Plan         string
	Invested     string
	Return       string
	Profit       string
	MaturityDate string
}

func (e *Engine) buildView(ev model.NotificationEvent, generatedAt time.Time) (view, error) {
	v := view{
		Brand:        e.opts.Brand,
		DashboardURL: e.opts.DashboardURL,
		GeneratedAt:  generatedAt.UTC().Format("2006-01-02 15:04 UTC"),
		Name:         ev.User.DisplayName(),
		Email:        ev.User.Email,
		Reason:       strings.TrimSpace(ev.Reason),
		TxHash:       strings.TrimSpace(ev.TransactionHash),
	}

	switch ev.Kind {
	case model.KindInvestment:
		inv := ev.Investment
		if inv == nil {
			return v, fmt.Errorf("%s: missing investment payload", ev.Name())
		}
		v.RequestID = inv.ID
		v.Plan = inv.PlanName
		v.Amount = FormatMoney(inv.AmountUSD)
		v.ExpectedReturn = FormatMoney(inv.ExpectedReturn)
		v.Profit = FormatMoney(inv.ExpectedReturn.Sub(inv.AmountUSD))
		v.Duration = inv.DurationDays
		if !inv.InterestRate.IsZero() {
			v.Rate = FormatPercent(inv.InterestRate)
		}
		v.PaymentMethod = strings.ToUpper(inv.PaymentMethod)
		v.MaturityDate = inv.MaturityDate
	case model.KindWithdrawal:
		w := ev.Withdrawal
		if w == nil {
			return v, fmt.Errorf("%s: missing withdrawal payload", ev.Name())
		}
		v.RequestID = w.ID
		v.Amount = FormatMoney(w.Amount)
		v.PaymentMethod = strings.ToUpper(w.PaymentMethod)
		v.Wallet = w.WalletAddress
	case model.KindMaturityBatch:
		v.Count = len(ev.Matured)
		v.Summary = strings.TrimSpace(ev.Summary)
		invested, returned := decimal.Zero, decimal.Zero
		for _, m := range ev.Matured {
			v.Matured = append(v.Matured, maturedRow{
				Name:         m.User.DisplayName(),
				Email:        m.User.Email,
				Plan:         m.PlanName,
				Invested:     FormatMoney(m.AmountInvested),
				Return:       FormatMoney(m.ReturnAmount),
				Profit:       FormatMoney(m.Profit()),
				MaturityDate: m.MaturityDate,
			})
			invested = invested.Add(m.AmountInvested)
			returned = returned.Add(m.ReturnAmount)
		}
		v.TotalInvested = FormatMoney(invested)
		v.TotalReturn = FormatMoney(returned)
	}
	return v, nil
}
