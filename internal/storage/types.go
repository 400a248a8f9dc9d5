package storage

import (
	"context"
	"errors"
	"time"

	"finpipe/internal/model"
)

var (
	ErrDisabled     = errors.New("storage disabled")
	ErrNotFound     = errors.New("record not found")
	ErrInvalidState = errors.New("record is not in a reviewable state")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": Path is the database file
//   - "postgres": DSN is the connection string
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ActivityReader is the read side the activity feed fans out over.
// Every list is scoped to one owner and ordered newest first.
type ActivityReader interface {
	ListInvestments(ctx context.Context, ownerID string) ([]model.Investment, error)
	ListPendingInvestments(ctx context.Context, ownerID string) ([]model.PendingInvestment, error)
	ListTransactions(ctx context.Context, ownerID string) ([]model.Transaction, error)
	ListWithdrawalRequests(ctx context.Context, ownerID string) ([]model.WithdrawalRequest, error)
}

// RecordStore is the full store used by the lifecycle service.
type RecordStore interface {
	ActivityReader

	UpsertUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, id string) (model.User, error)

	CreatePendingInvestment(ctx context.Context, p model.PendingInvestment) (model.PendingInvestment, error)
	ApprovePendingInvestment(ctx context.Context, id string, at time.Time) (model.PendingInvestment, model.Investment, error)
	RejectPendingInvestment(ctx context.Context, id, reason string) (model.PendingInvestment, error)

	CreateWithdrawalRequest(ctx context.Context, w model.WithdrawalRequest) (model.WithdrawalRequest, error)
	ReviewWithdrawalRequest(ctx context.Context, id string, review WithdrawalReview) (model.WithdrawalRequest, error)

	ListDueInvestments(ctx context.Context, asOf time.Time) ([]model.Investment, error)
	CompleteInvestment(ctx context.Context, id string, at time.Time) (model.Investment, error)

	Close() error
}

// WithdrawalReview is an admin decision on a withdrawal request.
type WithdrawalReview struct {
	Approve         bool
	Reason          string
	TransactionHash string
	At              time.Time
}
