package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gymdesk/internal/apperr"
	"gymdesk/internal/clock"
)

type service struct {
	repo   Repository
	clock  clock.Clock
	logger *zap.Logger
}

// NewService creates a new payment service instance.
func NewService(repo Repository, clk clock.Clock, logger *zap.Logger) Service {
	return &service{repo: repo, clock: clk, logger: logger}
}

// RecordPayment stores a payment stamped with the server clock. Any paid
// date supplied by a client is ignored.
func (s *service) RecordPayment(ctx context.Context, in Input) (*Payment, error) {
	const op = "payments.RecordPayment"
	amount := in.Amount.Round(2)
	switch {
	case in.MemberID <= 0:
		return nil, apperr.E(apperr.KindInvalid, op, "member_id is required")
	case in.PlanID <= 0:
		return nil, apperr.E(apperr.KindInvalid, op, "plan_id is required")
	case !amount.IsPositive():
		return nil, apperr.E(apperr.KindInvalid, op, "amount must be at least 0.01")
	}

	payment := &Payment{
		MemberID:  in.MemberID,
		PlanID:    in.PlanID,
		Amount:    amount,
		PaidAt:    s.clock.Now().UTC(),
		ReceiptNo: strings.TrimSpace(in.ReceiptNo),
	}
	if err := s.repo.RecordPayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	s.logger.Info("payment recorded",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("member_id", payment.MemberID),
		zap.String("amount", payment.Amount.StringFixed(2)),
	)
	return payment, nil
}

func (s *service) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get payment %d: %w", id, err)
	}
	return p, nil
}

func (s *service) ListPayments(ctx context.Context, filter Filter) ([]Payment, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, apperr.E(apperr.KindInvalid, "payments.ListPayments", "from must be before to")
	}
	list, err := s.repo.ListPayments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return list, nil
}

func (s *service) DeletePayment(ctx context.Context, id int64) error {
	if err := s.repo.DeletePayment(ctx, id); err != nil {
		return fmt.Errorf("delete payment %d: %w", id, err)
	}
	s.logger.Info("payment deleted", zap.Int64("payment_id", id))
	return nil
}

func (s *service) RevenueBetween(ctx context.Context, from, to time.Time) (Revenue, error) {
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return Revenue{}, apperr.E(apperr.KindInvalid, "payments.RevenueBetween", "from must be before to")
	}
	rev, err := s.repo.RevenueBetween(ctx, from, to)
	if err != nil {
		return Revenue{}, fmt.Errorf("sum revenue: %w", err)
	}
	return rev, nil
}
