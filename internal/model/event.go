package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Kind is the subject of a lifecycle notification.
type Kind string

const (
	KindInvestment    Kind = "investment"
	KindWithdrawal    Kind = "withdrawal"
	KindMaturityBatch Kind = "maturity_batch"
)

// Action is the lifecycle step being notified.
type Action string

const (
	ActionRequest    Action = "request"
	ActionAdminAlert Action = "admin_alert"
	ActionApprove    Action = "approve"
	ActionReject     Action = "reject"
	ActionMatured    Action = "matured"
)

// ParseKind normalizes a caller-supplied kind token.
func ParseKind(raw string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindInvestment:
		return KindInvestment, true
	case KindWithdrawal:
		return KindWithdrawal, true
	case KindMaturityBatch:
		return KindMaturityBatch, true
	}
	return "", false
}

// ParseAction normalizes a caller-supplied action token.
func ParseAction(raw string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionRequest:
		return ActionRequest, true
	case ActionAdminAlert:
		return ActionAdminAlert, true
	case ActionApprove:
		return ActionApprove, true
	case ActionReject:
		return ActionReject, true
	case ActionMatured:
		return ActionMatured, true
	}
	return "", false
}

// UserRef identifies the user a notification is about.
type UserRef struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// DisplayName falls back to the mailbox part of the email.
func (u UserRef) DisplayName() string {
	if n := strings.TrimSpace(u.Name); n != "" {
		return n
	}
	if at := strings.IndexByte(u.Email, '@'); at > 0 {
		return u.Email[:at]
	}
	return "Investor"
}

// InvestmentRequest is the investment payload carried by notifications.
type InvestmentRequest struct {
	ID             string          `json:"id"`
	PlanName       string          `json:"plan_name"`
	AmountUSD      decimal.Decimal `json:"amount_usd"`
	ExpectedReturn decimal.Decimal `json:"expected_return"`
	DurationDays   int             `json:"duration_days"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
	PaymentMethod  string          `json:"payment_method"`
	MaturityDate   string          `json:"maturity_date,omitempty"`
}

// WithdrawalRequestRef is the withdrawal payload carried by notifications.
type WithdrawalRequestRef struct {
	ID            string          `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	WalletAddress string          `json:"wallet_address"`
}

// MaturedInvestment is one entry of a maturity batch.
type MaturedInvestment struct {
	User           UserRef         `json:"user"`
	InvestmentID   string          `json:"investment_id"`
	PlanName       string          `json:"plan_name"`
	AmountInvested decimal.Decimal `json:"amount_invested"`
	ReturnAmount   decimal.Decimal `json:"return_amount"`
	MaturityDate   string          `json:"maturity_date"`
}

// Profit is the gain over the principal.
func (m MaturedInvestment) Profit() decimal.Decimal {
	return m.ReturnAmount.Sub(m.AmountInvested)
}

// NotificationEvent is the tagged union the renderer and dispatcher work on.
//
// Exactly one of Investment/Withdrawal is set for the investment and
// withdrawal kinds. The maturity batch kind uses Matured and Summary instead
// and ignores User.
type NotificationEvent struct {
	Kind   Kind
	Action Action
	User   UserRef

	Investment *InvestmentRequest
	Withdrawal *WithdrawalRequestRef

	Reason          string
	TransactionHash string

	Matured []MaturedInvestment
	Summary string
}

// Name is a stable label such as "investment.approve".
func (e NotificationEvent) Name() string {
	if e.Kind == KindMaturityBatch {
		return string(KindMaturityBatch)
	}
	return string(e.Kind) + "." + string(e.Action)
}

// RequestID returns the id of whichever request payload is present.
func (e NotificationEvent) RequestID() string {
	switch {
	case e.Investment != nil:
		return e.Investment.ID
	case e.Withdrawal != nil:
		return e.Withdrawal.ID
	}
	return ""
}
