package interpreter

import (
	"context"

	"github.com/fpt/kanoa/pkg/domain"
)

// Approver is asked before sending requests above the approval threshold.
type Approver interface {
	Approve(ctx context.Context, backend string, tokens int) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, backend string, tokens int) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, backend string, tokens int) (bool, error) {
	return f(ctx, backend, tokens)
}

// TokenGuard thresholds are estimated input tokens. Zero disables a threshold.
type TokenGuard struct {
	Warn        int
	Approval    int
	Reject      int
	AutoApprove bool
}

// DefaultTokenGuard warns at 2048, asks above 50,000 and rejects above 200,000.
func DefaultTokenGuard() TokenGuard {
	return TokenGuard{Warn: 2048, Approval: 50_000, Reject: 200_000}
}

type guardVerdict int

const (
	verdictPass guardVerdict = iota
	verdictWarn
)

// check returns a TokenLimitError when the request must not be sent.
func (g TokenGuard) check(ctx context.Context, approver Approver, backend string, tokens int) (guardVerdict, error) {
	if g.Reject > 0 && tokens > g.Reject {
		return verdictPass, &domain.TokenLimitError{Tokens: tokens, Limit: g.Reject}
	}
	if g.Approval > 0 && tokens > g.Approval && !g.AutoApprove {
		if approver == nil {
			return verdictPass, &domain.TokenLimitError{Tokens: tokens, Limit: g.Approval}
		}
		ok, err := approver.Approve(ctx, backend, tokens)
		if err != nil {
			return verdictPass, err
		}
		if !ok {
			return verdictPass, &domain.TokenLimitError{Tokens: tokens, Limit: g.Approval, Declined: true}
		}
	}
	if g.Warn > 0 && tokens >= g.Warn {
		return verdictWarn, nil
	}
	return verdictPass, nil
}
