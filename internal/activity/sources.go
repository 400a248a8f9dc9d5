package activity

import (
	"context"
	"fmt"
	"strings"

	"finpipe/internal/model"
	"finpipe/internal/storage"
)

// Source is one record kind feeding the timeline.
type Source interface {
	Kind() string
	Fetch(ctx context.Context, ownerID string) ([]Item, error)
}

// DefaultSources returns the four store-backed sources in merge order.
func DefaultSources(r storage.ActivityReader) []Source {
	return []Source{
		InvestmentSource{r},
		PendingSource{r},
		LedgerSource{r},
		WithdrawalSource{r},
	}
}

func itemID(kind, id string) string { return kind + "-" + id }

// ---- investments ----

type InvestmentSource struct {
	Reader interface {
		ListInvestments(ctx context.Context, ownerID string) ([]model.Investment, error)
	}
}

func (InvestmentSource) Kind() string { return "investment" }

func (s InvestmentSource) Fetch(ctx context.Context, ownerID string) ([]Item, error) {
	rows, err := s.Reader.ListInvestments(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, FromInvestment(r)...)
	}
	return out, nil
}

// FromInvestment emits one item per type in investmentEmits for r.Status.
func FromInvestment(r model.Investment) []Item {
	types := investmentTypes(r.Status)
	out := make([]Item, 0, len(types))
	expected := r.ExpectedReturnAmount
	maturity := r.MaturityDate
	for _, t := range types {
		switch t {
		case TypeReturn:
			out = append(out, Item{
				ID:             itemID("return", r.ID),
				Type:           TypeReturn,
				Title:          "Investment Matured",
				Description:    fmt.Sprintf("Returns from %s", r.PlanName),
				Amount:         r.ExpectedReturnAmount,
				Status:         r.Status,
				Date:           r.MaturityDate,
				InvestmentName: r.PlanName,
			})
		default:
			out = append(out, Item{
				ID:             itemID("investment", r.ID),
				Type:           TypeInvestment,
				Title:          "Investment Created",
				Description:    fmt.Sprintf("Invested in %s", r.PlanName),
				Amount:         r.AmountInvested,
				Status:         r.Status,
				Date:           r.CreatedAt,
				InvestmentName: r.PlanName,
				ExpectedReturn: &expected,
				MaturityDate:   &maturity,
				PaymentMethod:  r.PaymentMethod,
			})
		}
	}
	return out
}

// ---- pending investments ----

type PendingSource struct {
	Reader interface {
		ListPendingInvestments(ctx context.Context, ownerID string) ([]model.PendingInvestment, error)
	}
}

func (PendingSource) Kind() string { return "pending" }

func (s PendingSource) Fetch(ctx context.Context, ownerID string) ([]Item, error) {
	rows, err := s.Reader.ListPendingInvestments(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, FromPending(r))
	}
	return out, nil
}

// FromPending keeps the stored status as is.
func FromPending(r model.PendingInvestment) Item {
	expected := r.ExpectedReturn
	return Item{
		ID:             itemID("pending", r.ID),
		Type:           TypeInvestment,
		Title:          "Investment Request",
		Description:    fmt.Sprintf("Requested %s", r.PlanName),
		Amount:         r.AmountUSD,
		Status:         r.Status,
		Date:           r.CreatedAt,
		InvestmentName: r.PlanName,
		ExpectedReturn: &expected,
		PaymentMethod:  r.PaymentMethod,
	}
}

// ---- ledger ----

type LedgerSource struct {
	Reader interface {
		ListTransactions(ctx context.Context, ownerID string) ([]model.Transaction, error)
	}
}

func (LedgerSource) Kind() string { return "transaction" }

func (s LedgerSource) Fetch(ctx context.Context, ownerID string) ([]Item, error) {
	rows, err := s.Reader.ListTransactions(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, FromTransaction(r))
	}
	return out, nil
}

func FromTransaction(r model.Transaction) Item {
	rule := ledgerRuleFor(r.Type)
	desc := r.Description
	if strings.TrimSpace(desc) == "" {
		desc = rule.title
	}
	return Item{
		ID:          itemID("transaction", r.ID),
		Type:        rule.typ,
		Title:       rule.title,
		Description: desc,
		Amount:      r.Amount,
		Status:      r.Status,
		Date:        r.CreatedAt,
	}
}

// ---- withdrawal requests ----

type WithdrawalSource struct {
	Reader interface {
		ListWithdrawalRequests(ctx context.Context, ownerID string) ([]model.WithdrawalRequest, error)
	}
}

func (WithdrawalSource) Kind() string { return "withdrawal" }

func (s WithdrawalSource) Fetch(ctx context.Context, ownerID string) ([]Item, error) {
	rows, err := s.Reader.ListWithdrawalRequests(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, FromWithdrawal(r))
	}
	return out, nil
}

func FromWithdrawal(r model.WithdrawalRequest) Item {
	method := strings.ToUpper(r.PaymentMethod)
	return Item{
		ID:            itemID("withdrawal", r.ID),
		Type:          TypeWithdrawal,
		Title:         "Withdrawal Request",
		Description:   fmt.Sprintf("Withdrawal via %s", method),
		Amount:        r.Amount,
		Status:        r.Status,
		Date:          r.CreatedAt,
		PaymentMethod: r.PaymentMethod,
	}
}
