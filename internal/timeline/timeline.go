package timeline

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// FundPlan is the contractual plan a fund is sold under. MonthlyRate is the
// simple (non-compounding) monthly interest rate as a fraction, e.g. 0.015
// for 1.5% per month.
type FundPlan struct {
	FundCode                  string          `json:"fund_code"`
	MonthlyRate               decimal.Decimal `json:"monthly_rate"`
	IncubationMonths          int             `json:"incubation_months"`
	MinimumHoldMonths         int             `json:"minimum_hold_months"`
	RedemptionFrequencyMonths int             `json:"redemption_frequency_months"`
}

// Schedule is the entitlement timeline derived from a plan and deposit date.
// All dates are day-granular UTC midnights.
type Schedule struct {
	DepositDate           time.Time   `json:"deposit_date"`
	IncubationEndDate     time.Time   `json:"incubation_end_date"`
	InterestStartDate     time.Time   `json:"interest_start_date"`
	MinimumHoldEndDate    time.Time   `json:"minimum_hold_end_date"`
	RedemptionCheckpoints []time.Time `json:"redemption_checkpoints"`
}

var (
	ErrInvalidDepositDate = errors.New("deposit date is required")
	ErrInvalidPlan        = errors.New("fund plan is invalid")
)

// Compute derives the full entitlement schedule. Checkpoint dates use
// calendar-month arithmetic (AddDate), never a fixed 30-day month.
func Compute(plan FundPlan, depositDate time.Time) (Schedule, error) {
	if depositDate.IsZero() {
		return Schedule{}, ErrInvalidDepositDate
	}
	if plan.IncubationMonths < 0 || plan.MinimumHoldMonths < 0 ||
		plan.RedemptionFrequencyMonths <= 0 || plan.MonthlyRate.IsNegative() {
		return Schedule{}, ErrInvalidPlan
	}

	deposit := truncateToDay(depositDate)
	incubationEnd := deposit.AddDate(0, plan.IncubationMonths, 0)
	// Interest accrual and incubation end coincide by contract.
	interestStart := incubationEnd
	minimumHoldEnd := deposit.AddDate(0, plan.IncubationMonths+plan.MinimumHoldMonths, 0)

	var checkpoints []time.Time
	for cp := interestStart; !cp.After(minimumHoldEnd); cp = cp.AddDate(0, plan.RedemptionFrequencyMonths, 0) {
		checkpoints = append(checkpoints, cp)
	}

	return Schedule{
		DepositDate:           deposit,
		IncubationEndDate:     incubationEnd,
		InterestStartDate:     interestStart,
		MinimumHoldEndDate:    minimumHoldEnd,
		RedemptionCheckpoints: checkpoints,
	}, nil
}

// AccruedInterest returns the simple interest accrued on principal at asOf.
// Zero for any asOf on or before the interest-start date (the boundary day
// belongs to the incubation side). Between month boundaries a fractional
// day-count applies, so interest grows continuously rather than stepping
// only at month ends. The result is rounded to cents.
func AccruedInterest(plan FundPlan, principal decimal.Decimal, depositDate, asOf time.Time) (decimal.Decimal, error) {
	sched, err := Compute(plan, depositDate)
	if err != nil {
		return decimal.Zero, err
	}
	months := monthsElapsed(sched.InterestStartDate, truncateToDay(asOf))
	return principal.Mul(plan.MonthlyRate).Mul(months).Round(2), nil
}

// CanRedeemPrincipal reports whether principal may be withdrawn at asOf.
func CanRedeemPrincipal(sched Schedule, asOf time.Time) bool {
	return !truncateToDay(asOf).Before(sched.MinimumHoldEndDate)
}

// CanRedeemInterest reports whether accrued interest may be withdrawn at
// asOf: accrual must have started and a redemption checkpoint must have been
// reached.
func CanRedeemInterest(sched Schedule, asOf time.Time) bool {
	day := truncateToDay(asOf)
	if day.Before(sched.InterestStartDate) {
		return false
	}
	_, ok := LatestCheckpoint(sched, day)
	return ok
}

// LatestCheckpoint returns the most recent redemption checkpoint on or
// before asOf, if any has been reached.
func LatestCheckpoint(sched Schedule, asOf time.Time) (time.Time, bool) {
	day := truncateToDay(asOf)
	var latest time.Time
	found := false
	for _, cp := range sched.RedemptionCheckpoints {
		if cp.After(day) {
			break
		}
		latest = cp
		found = true
	}
	return latest, found
}

// monthsElapsed returns the calendar months between start and asOf as a
// decimal: whole months by AddDate stepping, plus a day fraction of the
// partially elapsed month. Zero when asOf is on or before start.
func monthsElapsed(start, asOf time.Time) decimal.Decimal {
	if !asOf.After(start) {
		return decimal.Zero
	}
	whole := 0
	for !start.AddDate(0, whole+1, 0).After(asOf) {
		whole++
	}
	lower := start.AddDate(0, whole, 0)
	upper := start.AddDate(0, whole+1, 0)
	elapsed := decimal.NewFromInt(daysBetween(lower, asOf))
	span := decimal.NewFromInt(daysBetween(lower, upper))
	return decimal.NewFromInt(int64(whole)).Add(elapsed.Div(span))
}

func daysBetween(a, b time.Time) int64 {
	return int64(b.Sub(a).Hours() / 24)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
