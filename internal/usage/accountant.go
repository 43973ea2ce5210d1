package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/docstream/docstream/internal/metrics"
)

// UnknownCount is returned by IncrementUsage when the store could not be updated
const UnknownCount = -1

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// MonthKey returns the UTC year-month a counter belongs to, e.g. "2025-03"
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Check is the outcome of a quota check
type Check struct {
	Plan    string `json:"plan"`
	Month   string `json:"month"`
	Current int    `json:"current"`
	Limit   *int   `json:"limit"`
	Allowed bool   `json:"allowed"`
}

// Accountant enforces plan limits on top of a Store. Store failures never block an
// extraction: they are logged and reported as zero usage.
type Accountant struct {
	store      Store
	timeSource TimeSource
}

// NewAccountant creates an Accountant using the wall clock
func NewAccountant(store Store) *Accountant {
	return NewAccountantWithTimeSource(store, defaultTimeSource{})
}

// NewAccountantWithTimeSource creates an Accountant with a custom clock for testing
func NewAccountantWithTimeSource(store Store, timeSource TimeSource) *Accountant {
	return &Accountant{store: store, timeSource: timeSource}
}

// CheckLimit reports whether userID may run another extraction this month under plan
func (a *Accountant) CheckLimit(ctx context.Context, userID, plan string) Check {
	limit, plan := LimitFor(plan)
	month := MonthKey(a.timeSource.Now())

	current, err := a.store.MonthlyUsage(ctx, userID, month)
	if err != nil {
		metrics.UsageBackendErrors.Add(1)
		slog.Error("Failed to read monthly usage",
			"user_id", userID,
			"month", month,
			"error", err,
		)
		current = 0
	}

	allowed := limit == nil || current < *limit
	return Check{
		Plan:    plan,
		Month:   month,
		Current: current,
		Limit:   limit,
		Allowed: allowed,
	}
}

// IncrementUsage counts one extraction for userID in the current month and returns the
// new count, or UnknownCount when the store failed
func (a *Accountant) IncrementUsage(ctx context.Context, userID string) int {
	month := MonthKey(a.timeSource.Now())

	count, err := a.store.IncrementUsage(ctx, userID, month)
	if err != nil {
		metrics.UsageBackendErrors.Add(1)
		slog.Error("Failed to increment usage",
			"user_id", userID,
			"month", month,
			"error", err,
		)
		return UnknownCount
	}
	return count
}

// UpsertUser records a login. Failures are logged and a transient free-plan user is
// returned so the request can continue.
func (a *Accountant) UpsertUser(ctx context.Context, profile Profile) *User {
	now := a.timeSource.Now().UTC()
	user, err := a.store.UpsertUser(ctx, profile, now)
	if err != nil {
		metrics.UsageBackendErrors.Add(1)
		slog.Error("Failed to upsert user", "email", profile.Email, "error", err)

		plan := profile.Plan
		if plan == "" {
			plan = PlanFree
		}
		return &User{
			ID:         profile.Email,
			Email:      profile.Email,
			Name:       profile.Name,
			PictureURL: profile.PictureURL,
			Plan:       plan,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	return user
}
