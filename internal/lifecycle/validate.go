package lifecycle

import (
	"net/mail"
	"strings"

	"finpipe/internal/model"
)

// Validate checks a transition before any delivery is attempted.
func Validate(tr Transition) *ValidationError {
	if strings.TrimSpace(tr.User.ID) == "" {
		return invalid("user.id", "is required")
	}
	email := strings.TrimSpace(tr.User.Email)
	if email == "" {
		return invalid("user.email", "is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return invalid("user.email", "is not a valid address")
	}

	switch tr.Kind {
	case model.KindInvestment, model.KindWithdrawal:
	case "":
		return invalid("type", "is required")
	default:
		return invalid("type", "must be investment or withdrawal")
	}

	switch tr.Action {
	case model.ActionRequest, model.ActionApprove, model.ActionReject:
	case model.ActionMatured:
		if tr.Kind != model.KindInvestment {
			return invalid("action", "matured only applies to investments")
		}
	case "":
		return invalid("action", "is required")
	default:
		return invalid("action", "must be request, approve or reject")
	}

	if tr.Kind == model.KindInvestment {
		return validateInvestment(tr.Action, tr.Investment)
	}
	return validateWithdrawal(tr.Action, tr.Withdrawal)
}

func validateInvestment(action model.Action, inv *model.InvestmentRequest) *ValidationError {
	if inv == nil {
		return invalid("request", "is required")
	}
	if strings.TrimSpace(inv.ID) == "" {
		return invalid("request.id", "is required")
	}
	if action != model.ActionRequest {
		return nil
	}
	if strings.TrimSpace(inv.PlanName) == "" {
		return invalid("request.plan_name", "is required")
	}
	if !inv.AmountUSD.IsPositive() {
		return invalid("request.amount_usd", "must be positive")
	}
	return nil
}

func validateWithdrawal(action model.Action, w *model.WithdrawalRequestRef) *ValidationError {
	if w == nil {
		return invalid("request", "is required")
	}
	if strings.TrimSpace(w.ID) == "" {
		return invalid("request.id", "is required")
	}
	if action != model.ActionRequest {
		return nil
	}
	if !w.Amount.IsPositive() {
		return invalid("request.amount", "must be positive")
	}
	if strings.TrimSpace(w.PaymentMethod) == "" {
		return invalid("request.payment_method", "is required")
	}
	if strings.TrimSpace(w.WalletAddress) == "" {
		return invalid("request.wallet_address", "is required")
	}
	return nil
}
