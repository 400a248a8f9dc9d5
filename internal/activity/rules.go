package activity

import (
	"strings"

	"finpipe/internal/model"
)

// investmentEmits maps an investment status to the item types it produces.
// A completed investment is two facts on the timeline: the original
// placement and the payout at maturity.
var investmentEmits = map[string][]Type{
	model.InvestmentActive:    {TypeInvestment},
	model.InvestmentCompleted: {TypeInvestment, TypeReturn},
}

func investmentTypes(status string) []Type {
	if ts, ok := investmentEmits[status]; ok {
		return ts
	}
	return []Type{TypeInvestment}
}

type ledgerRule struct {
	typ   Type
	title string
}

var ledgerRules = map[string]ledgerRule{
	model.TxInvestment: {TypeInvestment, "Investment"},
	model.TxWithdrawal: {TypeWithdrawal, "Withdrawal"},
	model.TxReturn:     {TypeReturn, "Investment Return"},
	model.TxDividend:   {TypeDividend, "Dividend Payment"},
	model.TxDeposit:    {TypeDeposit, "Deposit"},
}

// ledgerRuleFor maps a stored transaction type; unknown types read as deposits.
func ledgerRuleFor(stored string) ledgerRule {
	if r, ok := ledgerRules[strings.ToLower(strings.TrimSpace(stored))]; ok {
		return r
	}
	return ledgerRules[model.TxDeposit]
}
