package delivery

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strings"
)

// Code is a coarse, provider-independent failure class.
type Code string

const (
	CodeNone             Code = ""
	CodeInvalidRecipient Code = "invalid_recipient"
	CodeRateLimited      Code = "rate_limited"
	CodeAuth             Code = "auth"
	CodeUnavailable      Code = "unavailable"
	CodeTimeout          Code = "timeout"
	CodeRejected         Code = "rejected"
	CodeUnknown          Code = "unknown"
)

// ProviderError carries a provider's own classification.
type ProviderError struct {
	Provider string
	Code     Code
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	msg := e.Provider + ": " + string(e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Classify maps err to a Code. Typed information wins; the message text is
// only consulted when nothing typed is available, so results are best-effort.
func Classify(err error) Code {
	if err == nil {
		return CodeNone
	}

	var pe *ProviderError
	if errors.As(err, &pe) && pe.Code != "" {
		return pe.Code
	}
	if errors.Is(err, ErrNoRecipient) {
		return CodeInvalidRecipient
	}
	if errors.Is(err, ErrCircuitOpen) {
		return CodeUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CodeTimeout
	}
	var tp *textproto.Error
	if errors.As(err, &tp) {
		return classifySMTP(tp.Code)
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return CodeUnavailable
	}
	return classifyText(err.Error())
}

// classifySMTP maps RFC 5321 reply codes.
func classifySMTP(code int) Code {
	switch {
	case code == 421 || code == 450 || code == 451:
		return CodeUnavailable
	case code == 452:
		return CodeRateLimited
	case code == 530 || code == 534 || code == 535:
		return CodeAuth
	case code == 550 || code == 551 || code == 553:
		return CodeInvalidRecipient
	case code == 554 || code == 552:
		return CodeRejected
	case code >= 400 && code < 500:
		return CodeUnavailable
	case code >= 500:
		return CodeRejected
	}
	return CodeUnknown
}

// textRules is the fallback table, checked in order.
var textRules = []struct {
	needle string
	code   Code
}{
	{"invalid email", CodeInvalidRecipient},
	{"invalid recipient", CodeInvalidRecipient},
	{"mailbox unavailable", CodeInvalidRecipient},
	{"no such user", CodeInvalidRecipient},
	{"chat not found", CodeInvalidRecipient},
	{"too many requests", CodeRateLimited},
	{"rate limit", CodeRateLimited},
	{"unauthorized", CodeAuth},
	{"authentication", CodeAuth},
	{"api key", CodeAuth},
	{"forbidden", CodeAuth},
	{"timeout", CodeTimeout},
	{"timed out", CodeTimeout},
	{"connection refused", CodeUnavailable},
	{"service unavailable", CodeUnavailable},
	{"temporarily", CodeUnavailable},
	{"rejected", CodeRejected},
	{"spam", CodeRejected},
}

func classifyText(msg string) Code {
	m := strings.ToLower(msg)
	for _, r := range textRules {
		if strings.Contains(m, r.needle) {
			return r.code
		}
	}
	return CodeUnknown
}
