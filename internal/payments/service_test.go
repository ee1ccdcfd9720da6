package payments_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gymdesk/internal/apperr"
	"gymdesk/internal/clock"
	"gymdesk/internal/membership"
	"gymdesk/internal/payments"
	"gymdesk/internal/plans"
	"gymdesk/internal/store/memory"
)

func TestRecordAndSumPayments(t *testing.T) {
	st := memory.New()
	day := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	clk := clock.NewManual(day)
	ctx := context.Background()

	plan, err := plans.NewService(st, clk, zap.NewNop()).CreatePlan(ctx, plans.Input{Name: "Monthly", DurationMonths: 1, Charge: decimal.NewFromInt(40)})
	require.NoError(t, err)
	member, err := membership.NewService(st.Members(), clk, time.UTC, zap.NewNop(), nil).
		RegisterMember(ctx, membership.Registration{Name: "Ada"})
	require.NoError(t, err)

	svc := payments.NewService(st, clk, zap.NewNop())
	first, err := svc.RecordPayment(ctx, payments.Input{MemberID: member.ID, PlanID: plan.ID, Amount: decimal.RequireFromString("40.005"), ReceiptNo: " R-1 "})
	require.NoError(t, err)
	assert.Equal(t, "40.01", first.Amount.StringFixed(2))
	assert.Equal(t, "R-1", first.ReceiptNo)
	assert.True(t, first.PaidAt.Equal(day))

	clk.Advance(48 * time.Hour)
	_, err = svc.RecordPayment(ctx, payments.Input{MemberID: member.ID, PlanID: plan.ID, Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)

	all, err := svc.RevenueBetween(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, all.Count)
	assert.Equal(t, "50.01", all.Total.StringFixed(2))

	firstDay, err := svc.RevenueBetween(ctx, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, firstDay.Count)

	list, err := svc.ListPayments(ctx, payments.Filter{MemberID: &member.ID})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].PaidAt.After(list[1].PaidAt), "newest first")
	assert.Equal(t, "Monthly", list[0].PlanName)
	assert.Equal(t, "Ada", list[0].MemberName)

	require.NoError(t, svc.DeletePayment(ctx, first.ID))
	_, err = svc.GetPayment(ctx, first.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRecordPaymentValidation(t *testing.T) {
	svc := payments.NewService(memory.New(), clock.System{}, zap.NewNop())
	ctx := context.Background()

	tests := []payments.Input{
		{PlanID: 1, Amount: decimal.NewFromInt(1)},
		{MemberID: 1, Amount: decimal.NewFromInt(1)},
		{MemberID: 1, PlanID: 1},
		{MemberID: 1, PlanID: 1, Amount: decimal.NewFromInt(-5)},
		{MemberID: 1, PlanID: 1, Amount: decimal.RequireFromString("0.004")},
	}
	for _, in := range tests {
		_, err := svc.RecordPayment(ctx, in)
		assert.True(t, apperr.Is(err, apperr.KindInvalid), "%+v", in)
	}

	_, err := svc.RecordPayment(ctx, payments.Input{MemberID: 1, PlanID: 1, Amount: decimal.NewFromInt(5)})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	now := time.Now()
	_, err = svc.RevenueBetween(ctx, now, now.Add(-time.Hour))
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
}
