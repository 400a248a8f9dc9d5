package activity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type is the timeline category of an item.
type Type string

const (
	TypeInvestment Type = "investment"
	TypeReturn     Type = "return"
	TypeWithdrawal Type = "withdrawal"
	TypeDeposit    Type = "deposit"
	TypeDividend   Type = "dividend"
)

// Item is one normalized timeline entry. Items are built per call and never
// stored.
type Item struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	Date        time.Time       `json:"date"`

	InvestmentName string           `json:"investment_name,omitempty"`
	ExpectedReturn *decimal.Decimal `json:"expected_return,omitempty"`
	MaturityDate   *time.Time       `json:"maturity_date,omitempty"`
	PaymentMethod  string           `json:"payment_method,omitempty"`
}

// Stats summarizes a merged timeline.
type Stats struct {
	TotalActivities   int `json:"totalActivities"`
	ActiveInvestments int `json:"activeInvestments"`
	PendingRequests   int `json:"pendingRequests"`
	ThisMonth         int `json:"thisMonth"`
}

// ComputeStats derives Stats from items only. now picks the calendar month
// counted by ThisMonth, in now's location.
func ComputeStats(items []Item, now time.Time) Stats {
	st := Stats{TotalActivities: len(items)}
	y, m, _ := now.Date()
	for _, it := range items {
		if it.Type == TypeInvestment && it.Status == "active" {
			st.ActiveInvestments++
		}
		if it.Status == "pending" {
			st.PendingRequests++
		}
		iy, im, _ := it.Date.In(now.Location()).Date()
		if iy == y && im == m {
			st.ThisMonth++
		}
	}
	return st
}

// Feed is the result of one aggregation.
type Feed struct {
	Items []Item `json:"items"`
	Stats Stats  `json:"stats"`
	// Failures lists the sources that could not be read. It is for operators
	// and is not rendered to users.
	Failures []SourceError `json:"-"`
}
