package quota

import (
	"context"
	"log/slog"
	"time"

	"classbook/internal/types"
)

// UsageCounter counts confirmed bookings that consumed a plan's allowance:
// bookings of userID (and of the children they manage) on lessons whose class
// option accepts planID and whose start falls in [from, to).
type UsageCounter interface {
	CountConfirmedForPlan(ctx context.Context, userID, planID string, from, to time.Time) (int, error)
}

// Checker evaluates plan allowances. Safe for concurrent use.
type Checker struct {
	loc    *time.Location
	logger *slog.Logger
}

// NewChecker creates a Checker whose windows are aligned in loc.
func NewChecker(loc *time.Location, logger *slog.Logger) *Checker {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{loc: loc, logger: logger}
}

// IsWithinQuota reports whether sub can pay for one more session whose lesson
// starts at asOf. Plans without an allowance are always within quota.
func (c *Checker) IsWithinQuota(ctx context.Context, counter UsageCounter, sub types.SubscriptionWithPlan, asOf time.Time) (bool, error) {
	if sub.Plan.SessionsAllowed == nil {
		return true, nil
	}

	from, to, err := Window(asOf, sub.Plan.Interval, sub.Plan.IntervalCount, c.loc)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalUnexpected, "invalid plan interval", err)
	}

	used, err := counter.CountConfirmedForPlan(ctx, sub.UserID, sub.PlanID, from, to)
	if err != nil {
		return false, err
	}

	c.logger.DebugContext(ctx, "quota evaluated",
		"subscription_id", sub.ID,
		"plan_id", sub.PlanID,
		"window_start", from,
		"window_end", to,
		"used", used,
		"allowed", *sub.Plan.SessionsAllowed,
	)
	return used < *sub.Plan.SessionsAllowed, nil
}

// Select returns the first subscription in subs that is valid at lessonStart,
// is accepted by option and still has allowance left.
//
// It fails with payment_required when no subscription covers the lesson and
// with limit_quota_exceeded when every covering subscription is used up.
func (c *Checker) Select(ctx context.Context, counter UsageCounter, subs []types.SubscriptionWithPlan, option types.ClassOption, lessonStart time.Time) (*types.SubscriptionWithPlan, error) {
	covering := 0
	for i := range subs {
		sub := subs[i]
		if !sub.Covers(lessonStart) || !option.AllowsPlan(sub.PlanID) {
			continue
		}
		covering++

		ok, err := c.IsWithinQuota(ctx, counter, sub, lessonStart)
		if err != nil {
			return nil, err
		}
		if ok {
			return &sub, nil
		}
	}

	if covering == 0 {
		return nil, types.NewAppError(types.ErrCodePaymentRequired,
			"no active subscription covers this class", nil)
	}
	return nil, types.NewAppErrorWithDetails(types.ErrCodeLimitQuotaExceeded,
		"session allowance for this plan period is used up", nil,
		map[string]any{"subscriptions_checked": covering})
}
