package timeline

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func corePlan() FundPlan {
	return FundPlan{
		FundCode:                  "CORE",
		MonthlyRate:               decimal.RequireFromString("0.015"),
		IncubationMonths:          2,
		MinimumHoldMonths:         12,
		RedemptionFrequencyMonths: 1,
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCompute_CoreSchedule(t *testing.T) {
	sched, err := Compute(corePlan(), day(2024, time.January, 15))
	require.NoError(t, err)

	assert.Equal(t, day(2024, time.March, 15), sched.IncubationEndDate)
	assert.Equal(t, day(2024, time.March, 15), sched.InterestStartDate)
	assert.Equal(t, day(2025, time.March, 15), sched.MinimumHoldEndDate)

	// Monthly checkpoints from interest start through minimum-hold end inclusive.
	require.Len(t, sched.RedemptionCheckpoints, 13)
	assert.Equal(t, day(2024, time.March, 15), sched.RedemptionCheckpoints[0])
	assert.Equal(t, day(2024, time.April, 15), sched.RedemptionCheckpoints[1])
	assert.Equal(t, day(2025, time.March, 15), sched.RedemptionCheckpoints[12])
}

func TestCompute_RejectsZeroDepositDate(t *testing.T) {
	_, err := Compute(corePlan(), time.Time{})
	assert.ErrorIs(t, err, ErrInvalidDepositDate)
}

func TestCompute_RejectsBadPlan(t *testing.T) {
	plan := corePlan()
	plan.RedemptionFrequencyMonths = 0
	_, err := Compute(plan, day(2024, time.January, 15))
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestAccruedInterest_ZeroDuringIncubation(t *testing.T) {
	principal := decimal.NewFromInt(10000)
	deposit := day(2024, time.January, 15)

	got, err := AccruedInterest(corePlan(), principal, deposit, day(2024, time.February, 20))
	require.NoError(t, err)
	assert.True(t, got.IsZero(), "incubation period must not accrue, got %s", got)

	// The interest-start boundary itself still belongs to the incubation side.
	got, err = AccruedInterest(corePlan(), principal, deposit, day(2024, time.March, 15))
	require.NoError(t, err)
	assert.True(t, got.IsZero(), "boundary day must not accrue, got %s", got)
}

func TestAccruedInterest_WholeMonths(t *testing.T) {
	principal := decimal.NewFromInt(10000)
	deposit := day(2024, time.January, 15)

	got, err := AccruedInterest(corePlan(), principal, deposit, day(2024, time.April, 15))
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("150.00")), "one month = $150, got %s", got)

	got, err = AccruedInterest(corePlan(), principal, deposit, day(2024, time.May, 15))
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("300.00")), "two months = $300, got %s", got)
}

func TestAccruedInterest_PartialMonthIsFractional(t *testing.T) {
	principal := decimal.NewFromInt(10000)
	deposit := day(2024, time.January, 15)

	// 2024-03-15 → 2024-04-15 spans 31 days; 10 days in equals 10/31 of a month.
	got, err := AccruedInterest(corePlan(), principal, deposit, day(2024, time.March, 25))
	require.NoError(t, err)
	want := decimal.NewFromInt(150).Mul(decimal.NewFromInt(10)).Div(decimal.NewFromInt(31)).Round(2)
	assert.True(t, got.Equal(want), "want %s got %s", want, got)

	// Strictly between the flat month values, so accrual is continuous.
	assert.True(t, got.GreaterThan(decimal.Zero))
	assert.True(t, got.LessThan(decimal.NewFromInt(150)))
}

func TestRedemptionEligibility(t *testing.T) {
	sched, err := Compute(corePlan(), day(2024, time.January, 15))
	require.NoError(t, err)

	// Principal locked until minimum-hold end.
	assert.False(t, CanRedeemPrincipal(sched, day(2025, time.March, 14)))
	assert.True(t, CanRedeemPrincipal(sched, day(2025, time.March, 15)))
	assert.True(t, CanRedeemPrincipal(sched, day(2025, time.June, 1)))

	// Interest locked until accrual starts.
	assert.False(t, CanRedeemInterest(sched, day(2024, time.February, 1)))
	assert.True(t, CanRedeemInterest(sched, day(2024, time.March, 15)))
	assert.True(t, CanRedeemInterest(sched, day(2024, time.July, 2)))
}

func TestLatestCheckpoint(t *testing.T) {
	sched, err := Compute(corePlan(), day(2024, time.January, 15))
	require.NoError(t, err)

	_, ok := LatestCheckpoint(sched, day(2024, time.March, 1))
	assert.False(t, ok)

	cp, ok := LatestCheckpoint(sched, day(2024, time.May, 3))
	require.True(t, ok)
	assert.Equal(t, day(2024, time.April, 15), cp)

	// Past the schedule end the final checkpoint stays the latest.
	cp, ok = LatestCheckpoint(sched, day(2026, time.January, 1))
	require.True(t, ok)
	assert.Equal(t, day(2025, time.March, 15), cp)
}

func TestCompute_QuarterlyCheckpoints(t *testing.T) {
	plan := corePlan()
	plan.RedemptionFrequencyMonths = 3
	sched, err := Compute(plan, day(2024, time.January, 31))
	require.NoError(t, err)

	// 2024-01-31 + 2 months normalizes through calendar arithmetic.
	assert.Equal(t, day(2024, time.March, 31), sched.InterestStartDate)
	require.NotEmpty(t, sched.RedemptionCheckpoints)
	assert.Equal(t, sched.InterestStartDate, sched.RedemptionCheckpoints[0])
	for i := 1; i < len(sched.RedemptionCheckpoints); i++ {
		prev := sched.RedemptionCheckpoints[i-1]
		assert.Equal(t, prev.AddDate(0, 3, 0), sched.RedemptionCheckpoints[i])
	}
}
