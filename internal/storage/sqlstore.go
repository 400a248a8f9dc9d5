package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"finpipe/internal/model"
	logx "finpipe/pkg/logx"
)

// SQLStore implements RecordStore on top of sqlx.
// Queries are written with '?' placeholders and rebound per driver.
type SQLStore struct {
	db  *sqlx.DB
	log logx.Logger
}

var _ RecordStore = (*SQLStore)(nil)

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks connectivity (used by /healthz).
func (s *SQLStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return s.db.PingContext(ctx)
}

func (s *SQLStore) q(query string) string { return s.db.Rebind(query) }

const (
	investmentCols = `id, user_id, plan_name, amount_invested, expected_return_amount, interest_rate,
		duration_days, payment_method, status, start_date, maturity_date, created_at`
	pendingCols = `id, user_id, plan_name, amount_usd, expected_return, interest_rate,
		duration_days, payment_method, status, rejection_reason, created_at`
	transactionCols = `id, user_id, type, amount, description, status, created_at`
	withdrawalCols  = `id, user_id, amount, payment_method, wallet_address, status,
		transaction_hash, rejection_reason, created_at`
)

// ---- Activity reads ----

func (s *SQLStore) ListInvestments(ctx context.Context, ownerID string) ([]model.Investment, error) {
	var out []model.Investment
	err := s.db.SelectContext(ctx, &out,
		s.q(`SELECT `+investmentCols+` FROM investments WHERE user_id = ? ORDER BY created_at DESC`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing investments: %w", err)
	}
	return out, nil
}

func (s *SQLStore) ListPendingInvestments(ctx context.Context, ownerID string) ([]model.PendingInvestment, error) {
	var out []model.PendingInvestment
	err := s.db.SelectContext(ctx, &out,
		s.q(`SELECT `+pendingCols+` FROM pending_investments WHERE user_id = ? ORDER BY created_at DESC`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing pending investments: %w", err)
	}
	return out, nil
}

func (s *SQLStore) ListTransactions(ctx context.Context, ownerID string) ([]model.Transaction, error) {
	var out []model.Transaction
	err := s.db.SelectContext(ctx, &out,
		s.q(`SELECT `+transactionCols+` FROM transactions WHERE user_id = ? ORDER BY created_at DESC`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return out, nil
}

func (s *SQLStore) ListWithdrawalRequests(ctx context.Context, ownerID string) ([]model.WithdrawalRequest, error) {
	var out []model.WithdrawalRequest
	err := s.db.SelectContext(ctx, &out,
		s.q(`SELECT `+withdrawalCols+` FROM withdrawal_requests WHERE user_id = ? ORDER BY created_at DESC`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing withdrawal requests: %w", err)
	}
	return out, nil
}

// ---- Users ----

func (s *SQLStore) UpsertUser(ctx context.Context, u model.User) error {
	if strings.TrimSpace(u.ID) == "" || strings.TrimSpace(u.Email) == "" {
		return errors.New("user id and email are required")
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (id, email, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email, name = excluded.name`),
		u.ID, u.Email, u.Name)
	if err != nil {
		return fmt.Errorf("upserting user %s: %w", u.ID, err)
	}
	return nil
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, s.q(`SELECT id, email, name FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("getting user %s: %w", id, err)
	}
	return u, nil
}

// ---- Investments ----

// CreatePendingInvestment inserts a new request. ID and CreatedAt are filled
// when empty; status is always pending.
func (s *SQLStore) CreatePendingInvestment(ctx context.Context, p model.PendingInvestment) (model.PendingInvestment, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.Status = model.StatusPending

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO pending_investments (`+pendingCols+`)
		VALUES (:id, :user_id, :plan_name, :amount_usd, :expected_return, :interest_rate,
			:duration_days, :payment_method, :status, :rejection_reason, :created_at)`, p)
	if err != nil {
		return model.PendingInvestment{}, fmt.Errorf("creating pending investment: %w", err)
	}
	return p, nil
}

// ApprovePendingInvestment marks the request approved and opens the matching
// active investment plus its ledger entry, atomically.
func (s *SQLStore) ApprovePendingInvestment(ctx context.Context, id string, at time.Time) (model.PendingInvestment, model.Investment, error) {
	at = at.UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.PendingInvestment{}, model.Investment{}, err
	}
	defer tx.Rollback()

	p, err := s.loadPending(ctx, tx, id)
	if err != nil {
		return model.PendingInvestment{}, model.Investment{}, err
	}
	if p.Status != model.StatusPending {
		return p, model.Investment{}, fmt.Errorf("pending investment %s is %s: %w", id, p.Status, ErrInvalidState)
	}

	res, err := tx.ExecContext(ctx,
		s.q(`UPDATE pending_investments SET status = ? WHERE id = ? AND status = ?`),
		model.StatusApproved, id, model.StatusPending)
	if err := guarded(res, err, "pending investment", id); err != nil {
		return p, model.Investment{}, err
	}
	p.Status = model.StatusApproved

	inv := model.Investment{
		ID:                   uuid.NewString(),
		UserID:               p.UserID,
		PlanName:             p.PlanName,
		AmountInvested:       p.AmountUSD,
		ExpectedReturnAmount: p.ExpectedReturn,
		InterestRate:         p.InterestRate,
		DurationDays:         p.DurationDays,
		PaymentMethod:        p.PaymentMethod,
		Status:               model.InvestmentActive,
		StartDate:            at,
		MaturityDate:         at.AddDate(0, 0, p.DurationDays),
		CreatedAt:            at,
	}
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO investments (`+investmentCols+`)
		VALUES (:id, :user_id, :plan_name, :amount_invested, :expected_return_amount, :interest_rate,
			:duration_days, :payment_method, :status, :start_date, :maturity_date, :created_at)`, inv); err != nil {
		return p, model.Investment{}, fmt.Errorf("opening investment for %s: %w", id, err)
	}

	if err := s.insertTransaction(ctx, tx, model.Transaction{
		UserID:      p.UserID,
		Type:        model.TxInvestment,
		Amount:      p.AmountUSD,
		Description: "Investment in " + p.PlanName,
		Status:      "completed",
		CreatedAt:   at,
	}); err != nil {
		return p, model.Investment{}, err
	}

	if err := tx.Commit(); err != nil {
		return p, model.Investment{}, err
	}
	return p, inv, nil
}

func (s *SQLStore) RejectPendingInvestment(ctx context.Context, id, reason string) (model.PendingInvestment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.PendingInvestment{}, err
	}
	defer tx.Rollback()

	p, err := s.loadPending(ctx, tx, id)
	if err != nil {
		return model.PendingInvestment{}, err
	}
	if p.Status != model.StatusPending {
		return p, fmt.Errorf("pending investment %s is %s: %w", id, p.Status, ErrInvalidState)
	}
	res, err := tx.ExecContext(ctx,
		s.q(`UPDATE pending_investments SET status = ?, rejection_reason = ? WHERE id = ? AND status = ?`),
		model.StatusRejected, reason, id, model.StatusPending)
	if err := guarded(res, err, "pending investment", id); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	p.Status = model.StatusRejected
	p.RejectionReason = reason
	return p, nil
}

// guarded checks a status-conditioned UPDATE. Zero affected rows means a
// concurrent writer moved the row out of the expected state first.
func guarded(res sql.Result, err error, what, id string) error {
	if err != nil {
		return fmt.Errorf("updating %s %s: %w", what, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating %s %s: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s changed concurrently: %w", what, id, ErrInvalidState)
	}
	return nil
}

func (s *SQLStore) loadPending(ctx context.Context, tx *sqlx.Tx, id string) (model.PendingInvestment, error) {
	var p model.PendingInvestment
	err := tx.GetContext(ctx, &p, s.q(`SELECT `+pendingCols+` FROM pending_investments WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, fmt.Errorf("loading pending investment %s: %w", id, err)
	}
	return p, nil
}

// ListDueInvestments returns active investments whose maturity date is at or
// before asOf, oldest maturity first.
func (s *SQLStore) ListDueInvestments(ctx context.Context, asOf time.Time) ([]model.Investment, error) {
	var out []model.Investment
	err := s.db.SelectContext(ctx, &out,
		s.q(`SELECT `+investmentCols+` FROM investments WHERE status = ? AND maturity_date <= ? ORDER BY maturity_date ASC`),
		model.InvestmentActive, asOf.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing due investments: %w", err)
	}
	return out, nil
}

// CompleteInvestment flips an active investment to completed and books the
// return to the ledger.
func (s *SQLStore) CompleteInvestment(ctx context.Context, id string, at time.Time) (model.Investment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Investment{}, err
	}
	defer tx.Rollback()

	var inv model.Investment
	err = tx.GetContext(ctx, &inv, s.q(`SELECT `+investmentCols+` FROM investments WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Investment{}, ErrNotFound
	}
	if err != nil {
		return model.Investment{}, fmt.Errorf("loading investment %s: %w", id, err)
	}
	if inv.Status != model.InvestmentActive {
		return inv, fmt.Errorf("investment %s is %s: %w", id, inv.Status, ErrInvalidState)
	}
	res, err := tx.ExecContext(ctx,
		s.q(`UPDATE investments SET status = ? WHERE id = ? AND status = ?`),
		model.InvestmentCompleted, id, model.InvestmentActive)
	if err := guarded(res, err, "investment", id); err != nil {
		return inv, err
	}
	if err := s.insertTransaction(ctx, tx, model.Transaction{
		UserID:      inv.UserID,
		Type:        model.TxReturn,
		Amount:      inv.ExpectedReturnAmount,
		Description: "Return from " + inv.PlanName,
		Status:      "completed",
		CreatedAt:   at.UTC(),
	}); err != nil {
		return inv, err
	}
	if err := tx.Commit(); err != nil {
		return inv, err
	}
	inv.Status = model.InvestmentCompleted
	return inv, nil
}

// ---- Withdrawals ----

func (s *SQLStore) CreateWithdrawalRequest(ctx context.Context, w model.WithdrawalRequest) (model.WithdrawalRequest, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.Status = model.StatusPending

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO withdrawal_requests (`+withdrawalCols+`)
		VALUES (:id, :user_id, :amount, :payment_method, :wallet_address, :status,
			:transaction_hash, :rejection_reason, :created_at)`, w)
	if err != nil {
		return model.WithdrawalRequest{}, fmt.Errorf("creating withdrawal request: %w", err)
	}
	return w, nil
}

func (s *SQLStore) ReviewWithdrawalRequest(ctx context.Context, id string, review WithdrawalReview) (model.WithdrawalRequest, error) {
	at := review.At
	if at.IsZero() {
		at = time.Now()
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.WithdrawalRequest{}, err
	}
	defer tx.Rollback()

	var w model.WithdrawalRequest
	err = tx.GetContext(ctx, &w, s.q(`SELECT `+withdrawalCols+` FROM withdrawal_requests WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return w, ErrNotFound
	}
	if err != nil {
		return w, fmt.Errorf("loading withdrawal request %s: %w", id, err)
	}
	if w.Status != model.StatusPending {
		return w, fmt.Errorf("withdrawal request %s is %s: %w", id, w.Status, ErrInvalidState)
	}

	if review.Approve {
		w.Status = model.StatusApproved
		w.TransactionHash = review.TransactionHash
	} else {
		w.Status = model.StatusRejected
		w.RejectionReason = review.Reason
	}
	res, err := tx.ExecContext(ctx,
		s.q(`UPDATE withdrawal_requests SET status = ?, transaction_hash = ?, rejection_reason = ? WHERE id = ? AND status = ?`),
		w.Status, w.TransactionHash, w.RejectionReason, id, model.StatusPending)
	if err := guarded(res, err, "withdrawal request", id); err != nil {
		return w, err
	}
	if review.Approve {
		if err := s.insertTransaction(ctx, tx, model.Transaction{
			UserID:      w.UserID,
			Type:        model.TxWithdrawal,
			Amount:      w.Amount,
			Description: "Withdrawal via " + strings.ToUpper(w.PaymentMethod),
			Status:      "completed",
			CreatedAt:   at.UTC(),
		}); err != nil {
			return w, err
		}
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// ---- Ledger ----

// AddTransaction books a standalone ledger entry (deposits, dividends).
func (s *SQLStore) AddTransaction(ctx context.Context, t model.Transaction) (model.Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO transactions (`+transactionCols+`)
		VALUES (:id, :user_id, :type, :amount, :description, :status, :created_at)`, t); err != nil {
		return t, fmt.Errorf("inserting %s transaction: %w", t.Type, err)
	}
	return t, nil
}

func (s *SQLStore) insertTransaction(ctx context.Context, tx *sqlx.Tx, t model.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO transactions (`+transactionCols+`)
		VALUES (:id, :user_id, :type, :amount, :description, :status, :created_at)`, t); err != nil {
		return fmt.Errorf("inserting %s transaction: %w", t.Type, err)
	}
	return nil
}
