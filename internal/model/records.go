package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Investment statuses.
const (
	InvestmentActive    = "active"
	InvestmentCompleted = "completed"
)

// Request statuses shared by pending investments and withdrawal requests.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Ledger transaction types as stored.
const (
	TxInvestment = "investment"
	TxWithdrawal = "withdrawal"
	TxReturn     = "return"
	TxDividend   = "dividend"
	TxDeposit    = "deposit"
)

// User is the account owner of every record kind.
type User struct {
	ID    string `db:"id" json:"id"`
	Email string `db:"email" json:"email"`
	Name  string `db:"name" json:"name,omitempty"`
}

// Investment is an approved investment; it starts active and becomes
// completed at maturity.
type Investment struct {
	ID                   string          `db:"id" json:"id"`
	UserID               string          `db:"user_id" json:"user_id"`
	PlanName             string          `db:"plan_name" json:"plan_name"`
	AmountInvested       decimal.Decimal `db:"amount_invested" json:"amount_invested"`
	ExpectedReturnAmount decimal.Decimal `db:"expected_return_amount" json:"expected_return_amount"`
	InterestRate         decimal.Decimal `db:"interest_rate" json:"interest_rate"`
	DurationDays         int             `db:"duration_days" json:"duration_days"`
	PaymentMethod        string          `db:"payment_method" json:"payment_method"`
	Status               string          `db:"status" json:"status"`
	StartDate            time.Time       `db:"start_date" json:"start_date"`
	MaturityDate         time.Time       `db:"maturity_date" json:"maturity_date"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
}

// PendingInvestment is an investment request awaiting admin review.
type PendingInvestment struct {
	ID              string          `db:"id" json:"id"`
	UserID          string          `db:"user_id" json:"user_id"`
	PlanName        string          `db:"plan_name" json:"plan_name"`
	AmountUSD       decimal.Decimal `db:"amount_usd" json:"amount_usd"`
	ExpectedReturn  decimal.Decimal `db:"expected_return" json:"expected_return"`
	InterestRate    decimal.Decimal `db:"interest_rate" json:"interest_rate"`
	DurationDays    int             `db:"duration_days" json:"duration_days"`
	PaymentMethod   string          `db:"payment_method" json:"payment_method"`
	Status          string          `db:"status" json:"status"`
	RejectionReason string          `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Transaction is one ledger entry.
type Transaction struct {
	ID          string          `db:"id" json:"id"`
	UserID      string          `db:"user_id" json:"user_id"`
	Type        string          `db:"type" json:"type"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Description string          `db:"description" json:"description"`
	Status      string          `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// WithdrawalRequest is a user request to move funds out.
type WithdrawalRequest struct {
	ID              string          `db:"id" json:"id"`
	UserID          string          `db:"user_id" json:"user_id"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	PaymentMethod   string          `db:"payment_method" json:"payment_method"`
	WalletAddress   string          `db:"wallet_address" json:"wallet_address"`
	Status          string          `db:"status" json:"status"`
	TransactionHash string          `db:"transaction_hash" json:"transaction_hash,omitempty"`
	RejectionReason string          `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}
