package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finpipe/internal/model"
	"finpipe/internal/render"
	"finpipe/internal/storage"
	logx "finpipe/pkg/logx"
)

const dateLayout = "2006-01-02"

// warnNotDelivered is attached to results whose notifications all failed.
const warnNotDelivered = "action completed, but no notification could be delivered"

type InvestmentInput struct {
	PlanName       string          `json:"plan_name"`
	AmountUSD      decimal.Decimal `json:"amount_usd"`
	ExpectedReturn decimal.Decimal `json:"expected_return"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
	DurationDays   int             `json:"duration_days"`
	PaymentMethod  string          `json:"payment_method"`
}

type WithdrawalInput struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	WalletAddress string          `json:"wallet_address"`
}

// Decision is an admin review.
type Decision struct {
	Approve         bool
	Reason          string
	TransactionHash string
}

type InvestmentResult struct {
	Pending      model.PendingInvestment `json:"pending"`
	Investment   *model.Investment       `json:"investment,omitempty"`
	Notification *Report                 `json:"notification,omitempty"`
	Warning      string                  `json:"warning,omitempty"`
}

type WithdrawalResult struct {
	Withdrawal   model.WithdrawalRequest `json:"withdrawal"`
	Notification *Report                 `json:"notification,omitempty"`
	Warning      string                  `json:"warning,omitempty"`
}

type MaturityResult struct {
	Completed []model.Investment `json:"completed"`
	Skipped   int                `json:"skipped"`
	Batch     BatchReport        `json:"batch"`
}

// Service performs business writes, then notifies. A notification problem
// never undoes or fails the write; it only sets Warning.
type Service struct {
	store storage.RecordStore
	coord *Coordinator
	log   logx.Logger
	now   func() time.Time
}

func NewService(store storage.RecordStore, coord *Coordinator, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, coord: coord, log: log.With(logx.String("comp", "lifecycle")), now: time.Now}
}

// SetClock overrides time.Now (tests, backfills).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// RegisterUser creates or updates the contact details notifications use.
func (s *Service) RegisterUser(ctx context.Context, u model.User) (model.User, error) {
	u.ID = strings.TrimSpace(u.ID)
	u.Email = strings.TrimSpace(u.Email)
	u.Name = strings.TrimSpace(u.Name)
	if u.ID == "" {
		return model.User{}, invalid("id", "is required")
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return model.User{}, invalid("email", "is not a valid address")
	}
	if err := s.store.UpsertUser(ctx, u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (s *Service) SubmitInvestment(ctx context.Context, userID string, in InvestmentInput) (InvestmentResult, error) {
	switch {
	case strings.TrimSpace(in.PlanName) == "":
		return InvestmentResult{}, invalid("plan_name", "is required")
	case !in.AmountUSD.IsPositive():
		return InvestmentResult{}, invalid("amount_usd", "must be positive")
	case in.DurationDays < 0:
		return InvestmentResult{}, invalid("duration_days", "must not be negative")
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return InvestmentResult{}, fmt.Errorf("loading user %s: %w", userID, err)
	}

	p, err := s.store.CreatePendingInvestment(ctx, model.PendingInvestment{
		UserID:         user.ID,
		PlanName:       strings.TrimSpace(in.PlanName),
		AmountUSD:      in.AmountUSD,
		ExpectedReturn: in.ExpectedReturn,
		InterestRate:   in.InterestRate,
		DurationDays:   in.DurationDays,
		PaymentMethod:  strings.TrimSpace(in.PaymentMethod),
		CreatedAt:      s.now(),
	})
	if err != nil {
		return InvestmentResult{}, err
	}

	res := InvestmentResult{Pending: p}
	res.Notification, res.Warning = s.notify(ctx, Transition{
		Kind:       model.KindInvestment,
		Action:     model.ActionRequest,
		User:       userRef(user),
		Investment: pendingRef(p, ""),
	})
	return res, nil
}

func (s *Service) SubmitWithdrawal(ctx context.Context, userID string, in WithdrawalInput) (WithdrawalResult, error) {
	switch {
	case !in.Amount.IsPositive():
		return WithdrawalResult{}, invalid("amount", "must be positive")
	case strings.TrimSpace(in.PaymentMethod) == "":
		return WithdrawalResult{}, invalid("payment_method", "is required")
	case strings.TrimSpace(in.WalletAddress) == "":
		return WithdrawalResult{}, invalid("wallet_address", "is required")
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return WithdrawalResult{}, fmt.Errorf("loading user %s: %w", userID, err)
	}

	w, err := s.store.CreateWithdrawalRequest(ctx, model.WithdrawalRequest{
		UserID:        user.ID,
		Amount:        in.Amount,
		PaymentMethod: strings.TrimSpace(in.PaymentMethod),
		WalletAddress: strings.TrimSpace(in.WalletAddress),
		CreatedAt:     s.now(),
	})
	if err != nil {
		return WithdrawalResult{}, err
	}

	res := WithdrawalResult{Withdrawal: w}
	res.Notification, res.Warning = s.notify(ctx, Transition{
		Kind:       model.KindWithdrawal,
		Action:     model.ActionRequest,
		User:       userRef(user),
		Withdrawal: withdrawalRef(w),
	})
	return res, nil
}

// ReviewInvestment approves or rejects a pending investment. Approval opens
// the active investment.
func (s *Service) ReviewInvestment(ctx context.Context, id string, d Decision) (InvestmentResult, error) {
	var (
		res    InvestmentResult
		action model.Action
		err    error
	)
	if d.Approve {
		var inv model.Investment
		res.Pending, inv, err = s.store.ApprovePendingInvestment(ctx, id, s.now())
		if err != nil {
			return InvestmentResult{}, err
		}
		res.Investment = &inv
		action = model.ActionApprove
	} else {
		res.Pending, err = s.store.RejectPendingInvestment(ctx, id, strings.TrimSpace(d.Reason))
		if err != nil {
			return InvestmentResult{}, err
		}
		action = model.ActionReject
	}

	user, err := s.store.GetUser(ctx, res.Pending.UserID)
	if err != nil {
		res.Warning = "action completed, but the user could not be loaded for notification"
		s.log.Warn("review notification skipped", logx.String("pending_id", id), logx.Err(err))
		return res, nil
	}
	maturity := ""
	if res.Investment != nil {
		maturity = res.Investment.MaturityDate.Format(dateLayout)
	}
	res.Notification, res.Warning = s.notify(ctx, Transition{
		Kind:       model.KindInvestment,
		Action:     action,
		User:       userRef(user),
		Investment: pendingRef(res.Pending, maturity),
		Reason:     d.Reason,
	})
	return res, nil
}

func (s *Service) ReviewWithdrawal(ctx context.Context, id string, d Decision) (WithdrawalResult, error) {
	w, err := s.store.ReviewWithdrawalRequest(ctx, id, storage.WithdrawalReview{
		Approve:         d.Approve,
		Reason:          strings.TrimSpace(d.Reason),
		TransactionHash: strings.TrimSpace(d.TransactionHash),
		At:              s.now(),
	})
	if err != nil {
		return WithdrawalResult{}, err
	}
	res := WithdrawalResult{Withdrawal: w}

	user, err := s.store.GetUser(ctx, w.UserID)
	if err != nil {
		res.Warning = "action completed, but the user could not be loaded for notification"
		s.log.Warn("review notification skipped", logx.String("withdrawal_id", id), logx.Err(err))
		return res, nil
	}
	action := model.ActionReject
	if d.Approve {
		action = model.ActionApprove
	}
	res.Notification, res.Warning = s.notify(ctx, Transition{
		Kind:            model.KindWithdrawal,
		Action:          action,
		User:            userRef(user),
		Withdrawal:      withdrawalRef(w),
		Reason:          w.RejectionReason,
		TransactionHash: w.TransactionHash,
	})
	return res, nil
}

// RunMaturity completes every active investment due at asOf and sends one
// maturity batch. Records that fail to complete are logged and skipped.
func (s *Service) RunMaturity(ctx context.Context, asOf time.Time) (MaturityResult, error) {
	due, err := s.store.ListDueInvestments(ctx, asOf)
	if err != nil {
		return MaturityResult{}, err
	}

	var (
		res     MaturityResult
		matured []model.MaturedInvestment
		users   = map[string]model.User{}
	)
	for _, inv := range due {
		done, err := s.store.CompleteInvestment(ctx, inv.ID, s.now())
		if err != nil {
			if !errors.Is(err, storage.ErrInvalidState) {
				s.log.Warn("investment not matured", logx.String("investment_id", inv.ID), logx.Err(err))
			}
			res.Skipped++
			continue
		}
		res.Completed = append(res.Completed, done)

		u, ok := users[done.UserID]
		if !ok {
			if u, err = s.store.GetUser(ctx, done.UserID); err != nil {
				s.log.Warn("matured investment owner not found", logx.String("user_id", done.UserID), logx.Err(err))
				u = model.User{ID: done.UserID}
			}
			users[done.UserID] = u
		}
		matured = append(matured, model.MaturedInvestment{
			User:           userRef(u),
			InvestmentID:   done.ID,
			PlanName:       done.PlanName,
			AmountInvested: done.AmountInvested,
			ReturnAmount:   done.ExpectedReturnAmount,
			MaturityDate:   done.MaturityDate.Format(dateLayout),
		})
	}

	res.Batch = s.coord.ProcessMaturity(ctx, MaturityBatch{
		Matured: matured,
		Summary: maturitySummary(matured, asOf),
	})
	s.log.Info("maturity run finished",
		logx.Int("due", len(due)),
		logx.Int("completed", len(res.Completed)),
		logx.Int("skipped", res.Skipped),
		logx.Int("emails_sent", res.Batch.EmailsSent),
		logx.Int("emails_failed", res.Batch.EmailsFailed),
	)
	return res, nil
}

func (s *Service) notify(ctx context.Context, tr Transition) (*Report, string) {
	rep, err := s.coord.NotifyTransition(ctx, tr)
	if err != nil {
		s.log.Error("notification failed",
			logx.String("kind", string(tr.Kind)),
			logx.String("action", string(tr.Action)),
			logx.Err(err),
		)
		return nil, err.Error()
	}
	if !rep.Success {
		return &rep, warnNotDelivered
	}
	return &rep, ""
}

func maturitySummary(matured []model.MaturedInvestment, asOf time.Time) string {
	invested, returned := decimal.Zero, decimal.Zero
	for _, m := range matured {
		invested = invested.Add(m.AmountInvested)
		returned = returned.Add(m.ReturnAmount)
	}
	return fmt.Sprintf("%d investment(s) matured as of %s. Principal %s, paid out %s, profit %s.",
		len(matured), asOf.UTC().Format(dateLayout),
		render.FormatMoney(invested), render.FormatMoney(returned), render.FormatMoney(returned.Sub(invested)))
}

func userRef(u model.User) model.UserRef {
	return model.UserRef{ID: u.ID, Email: u.Email, Name: u.Name}
}

func pendingRef(p model.PendingInvestment, maturity string) *model.InvestmentRequest {
	return &model.InvestmentRequest{
		ID:             p.ID,
		PlanName:       p.PlanName,
		AmountUSD:      p.AmountUSD,
		ExpectedReturn: p.ExpectedReturn,
		DurationDays:   p.DurationDays,
		InterestRate:   p.InterestRate,
		PaymentMethod:  p.PaymentMethod,
		MaturityDate:   maturity,
	}
}

func withdrawalRef(w model.WithdrawalRequest) *model.WithdrawalRequestRef {
	return &model.WithdrawalRequestRef{
		ID:            w.ID,
		Amount:        w.Amount,
		PaymentMethod: w.PaymentMethod,
		WalletAddress: w.WalletAddress,
	}
}
