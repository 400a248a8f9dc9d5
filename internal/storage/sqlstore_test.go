package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finpipe/internal/model"
	logx "finpipe/pkg/logx"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "finpipe.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *SQLStore, id string) {
	t.Helper()
	if err := s.UpsertUser(context.Background(), model.User{ID: id, Email: id + "@example.com", Name: "Test " + id}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
}

func TestOpenDisabledDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "none"}, logx.Nop()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
	if _, err := Open(Config{Driver: "mysql"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "finpipe.db")
	for i := 0; i < 2; i++ {
		s, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		var n int
		if err := s.db.Get(&n, "SELECT COUNT(*) FROM schema_version"); err != nil {
			t.Fatalf("count versions: %v", err)
		}
		if n != len(migrations) {
			t.Fatalf("schema_version rows = %d, want %d", n, len(migrations))
		}
		_ = s.Close()
	}
}

func TestInvestmentApprovalFlow(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")

	p, err := s.CreatePendingInvestment(ctx, model.PendingInvestment{
		UserID:         "u1",
		PlanName:       "Gold Plan",
		AmountUSD:      decimal.RequireFromString("5000"),
		ExpectedReturn: decimal.RequireFromString("6000"),
		InterestRate:   decimal.RequireFromString("20"),
		DurationDays:   30,
		PaymentMethod:  "usdt",
	})
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if p.ID == "" || p.Status != model.StatusPending {
		t.Fatalf("unexpected pending row: %+v", p)
	}

	at := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	approved, inv, err := s.ApprovePendingInvestment(ctx, p.ID, at)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != model.StatusApproved {
		t.Fatalf("pending status = %q", approved.Status)
	}
	if inv.Status != model.InvestmentActive || !inv.AmountInvested.Equal(p.AmountUSD) {
		t.Fatalf("unexpected investment: %+v", inv)
	}
	if want := at.AddDate(0, 0, 30); !inv.MaturityDate.Equal(want) {
		t.Fatalf("maturity = %v, want %v", inv.MaturityDate, want)
	}

	if _, _, err := s.ApprovePendingInvestment(ctx, p.ID, at); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second approve err = %v, want ErrInvalidState", err)
	}
	if _, err := s.RejectPendingInvestment(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("reject missing err = %v, want ErrNotFound", err)
	}

	txs, err := s.ListTransactions(ctx, "u1")
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 || txs[0].Type != model.TxInvestment {
		t.Fatalf("ledger = %+v, want one investment entry", txs)
	}
}

func TestMaturityCompletesDueInvestments(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(days int) model.Investment {
		p, err := s.CreatePendingInvestment(ctx, model.PendingInvestment{
			UserID:         "u1",
			PlanName:       "Plan",
			AmountUSD:      decimal.NewFromInt(1000),
			ExpectedReturn: decimal.NewFromInt(1200),
			DurationDays:   days,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		_, inv, err := s.ApprovePendingInvestment(ctx, p.ID, start)
		if err != nil {
			t.Fatalf("approve: %v", err)
		}
		return inv
	}
	short := mk(10)
	mk(90)

	due, err := s.ListDueInvestments(ctx, start.AddDate(0, 0, 30))
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].ID != short.ID {
		t.Fatalf("due = %+v, want only %s", due, short.ID)
	}

	done, err := s.CompleteInvestment(ctx, short.ID, start.AddDate(0, 0, 30))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != model.InvestmentCompleted {
		t.Fatalf("status = %q", done.Status)
	}
	if _, err := s.CompleteInvestment(ctx, short.ID, start); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second complete err = %v, want ErrInvalidState", err)
	}

	txs, err := s.ListTransactions(ctx, "u1")
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	var returns int
	for _, tx := range txs {
		if tx.Type == model.TxReturn {
			returns++
			if !tx.Amount.Equal(decimal.NewFromInt(1200)) {
				t.Fatalf("return amount = %s", tx.Amount)
			}
		}
	}
	if returns != 1 {
		t.Fatalf("return entries = %d, want 1", returns)
	}
}

func TestWithdrawalReview(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")

	tests := []struct {
		name   string
		review WithdrawalReview
		status string
		ledger int
	}{
		{"approve", WithdrawalReview{Approve: true, TransactionHash: "0xabc"}, model.StatusApproved, 1},
		{"reject", WithdrawalReview{Reason: "wallet mismatch"}, model.StatusRejected, 0},
	}
	for _, tt := range tests {
		tt := tt
		w, err := s.CreateWithdrawalRequest(ctx, model.WithdrawalRequest{
			UserID:        "u1",
			Amount:        decimal.RequireFromString("250.50"),
			PaymentMethod: "btc",
			WalletAddress: "bc1qxyz",
		})
		if err != nil {
			t.Fatalf("%s: create: %v", tt.name, err)
		}
		before, _ := s.ListTransactions(ctx, "u1")

		got, err := s.ReviewWithdrawalRequest(ctx, w.ID, tt.review)
		if err != nil {
			t.Fatalf("%s: review: %v", tt.name, err)
		}
		if got.Status != tt.status {
			t.Fatalf("%s: status = %q, want %q", tt.name, got.Status, tt.status)
		}
		after, _ := s.ListTransactions(ctx, "u1")
		if len(after)-len(before) != tt.ledger {
			t.Fatalf("%s: ledger grew by %d, want %d", tt.name, len(after)-len(before), tt.ledger)
		}
		if _, err := s.ReviewWithdrawalRequest(ctx, w.ID, tt.review); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("%s: second review err = %v", tt.name, err)
		}
	}

	list, err := s.ListWithdrawalRequests(ctx, "u1")
	if err != nil {
		t.Fatalf("list withdrawals: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("withdrawals = %d, want 2", len(list))
	}
	if !list[0].Amount.Equal(decimal.RequireFromString("250.5")) {
		t.Fatalf("amount round trip = %s", list[0].Amount)
	}
}

func TestListsAreOwnerScoped(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	seedUser(t, s, "u2")

	if _, err := s.AddTransaction(ctx, model.Transaction{UserID: "u2", Type: model.TxDeposit, Amount: decimal.NewFromInt(10), Status: "completed"}); err != nil {
		t.Fatalf("add tx: %v", err)
	}
	txs, err := s.ListTransactions(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("u1 sees %d foreign transactions", len(txs))
	}
	if _, err := s.GetUser(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetUser missing err = %v", err)
	}
}

type rowsResult int64

func (r rowsResult) LastInsertId() (int64, error) { return 0, nil }
func (r rowsResult) RowsAffected() (int64, error) { return int64(r), nil }

func TestGuardedUpdate(t *testing.T) {
	t.Parallel()
	if err := guarded(rowsResult(1), nil, "investment", "i1"); err != nil {
		t.Fatalf("one row: %v", err)
	}
	if err := guarded(rowsResult(0), nil, "investment", "i1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("zero rows: err = %v, want ErrInvalidState", err)
	}
	boom := errors.New("boom")
	if err := guarded(nil, boom, "investment", "i1"); !errors.Is(err, boom) {
		t.Fatalf("exec error: err = %v", err)
	}
}

// race runs fn twice at once and returns both errors.
func race(fn func() error) [2]error {
	var (
		wg   sync.WaitGroup
		errs [2]error
	)
	start := make(chan struct{})
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func countTx(t *testing.T, s *SQLStore, owner, typ string) int {
	t.Helper()
	txs, err := s.ListTransactions(context.Background(), owner)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	n := 0
	for _, tx := range txs {
		if tx.Type == typ {
			n++
		}
	}
	return n
}

func TestConcurrentReviewsApplyOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	at := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		txType string
		setup  func(t *testing.T, s *SQLStore) func() error
	}{
		{
			name:   "approve investment",
			txType: model.TxInvestment,
			setup: func(t *testing.T, s *SQLStore) func() error {
				p, err := s.CreatePendingInvestment(ctx, model.PendingInvestment{
					UserID: "u1", PlanName: "Gold Plan",
					AmountUSD: decimal.RequireFromString("5000"), ExpectedReturn: decimal.RequireFromString("6000"),
					InterestRate: decimal.RequireFromString("20"), DurationDays: 30, PaymentMethod: "usdt",
				})
				if err != nil {
					t.Fatalf("create pending: %v", err)
				}
				return func() error {
					_, _, err := s.ApprovePendingInvestment(ctx, p.ID, at)
					return err
				}
			},
		},
		{
			name:   "approve withdrawal",
			txType: model.TxWithdrawal,
			setup: func(t *testing.T, s *SQLStore) func() error {
				w, err := s.CreateWithdrawalRequest(ctx, model.WithdrawalRequest{
					UserID: "u1", Amount: decimal.RequireFromString("250"), PaymentMethod: "usdt", WalletAddress: "T-addr",
				})
				if err != nil {
					t.Fatalf("create withdrawal: %v", err)
				}
				return func() error {
					_, err := s.ReviewWithdrawalRequest(ctx, w.ID, WithdrawalReview{Approve: true, TransactionHash: "0xabc", At: at})
					return err
				}
			},
		},
		{
			name:   "complete investment",
			txType: model.TxReturn,
			setup: func(t *testing.T, s *SQLStore) func() error {
				p, err := s.CreatePendingInvestment(ctx, model.PendingInvestment{
					UserID: "u1", PlanName: "Silver Plan",
					AmountUSD: decimal.RequireFromString("100"), ExpectedReturn: decimal.RequireFromString("110"),
					InterestRate: decimal.RequireFromString("10"), DurationDays: 1, PaymentMethod: "usdt",
				})
				if err != nil {
					t.Fatalf("create pending: %v", err)
				}
				_, inv, err := s.ApprovePendingInvestment(ctx, p.ID, at)
				if err != nil {
					t.Fatalf("approve: %v", err)
				}
				return func() error {
					_, err := s.CompleteInvestment(ctx, inv.ID, at.AddDate(0, 0, 2))
					return err
				}
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := openTestStore(t)
			seedUser(t, s, "u1")
			fn := tt.setup(t, s)
			before := countTx(t, s, "u1", tt.txType)

			errs := race(fn)
			ok, invalid := 0, 0
			for _, err := range errs {
				switch {
				case err == nil:
					ok++
				case errors.Is(err, ErrInvalidState):
					invalid++
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if ok != 1 || invalid != 1 {
				t.Fatalf("ok=%d invalid=%d, want 1 and 1", ok, invalid)
			}
			if got := countTx(t, s, "u1", tt.txType) - before; got != 1 {
				t.Fatalf("%s ledger rows added = %d, want 1", tt.txType, got)
			}
		})
	}
}
