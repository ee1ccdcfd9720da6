package plans

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gymdesk/internal/apperr"
	"gymdesk/internal/clock"
)

type service struct {
	repo   Repository
	clock  clock.Clock
	logger *zap.Logger
}

// NewService creates a new plan service instance.
func NewService(repo Repository, clk clock.Clock, logger *zap.Logger) Service {
	return &service{repo: repo, clock: clk, logger: logger}
}

func validate(op string, in Input) (Input, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.ServiceType = strings.TrimSpace(in.ServiceType)
	switch {
	case in.Name == "":
		return in, apperr.E(apperr.KindInvalid, op, "plan_name is required")
	case in.DurationMonths <= 0:
		return in, apperr.E(apperr.KindInvalid, op, "duration_months must be positive")
	case in.Charge.IsNegative():
		return in, apperr.E(apperr.KindInvalid, op, "charge must not be negative")
	}
	return in, nil
}

func (s *service) CreatePlan(ctx context.Context, in Input) (*Plan, error) {
	in, err := validate("plans.CreatePlan", in)
	if err != nil {
		return nil, err
	}
	plan := &Plan{
		Name:           in.Name,
		DurationMonths: in.DurationMonths,
		Charge:         in.Charge,
		ServiceType:    in.ServiceType,
		CreatedAt:      s.clock.Now().UTC(),
	}
	if err := s.repo.CreatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	s.logger.Info("plan created", zap.Int64("plan_id", plan.ID), zap.String("name", plan.Name))
	return plan, nil
}

func (s *service) GetPlan(ctx context.Context, id int64) (*Plan, error) {
	plan, err := s.repo.GetPlan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get plan %d: %w", id, err)
	}
	return plan, nil
}

func (s *service) ListPlans(ctx context.Context) ([]*Plan, error) {
	plans, err := s.repo.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

func (s *service) UpdatePlan(ctx context.Context, id int64, in Input) (*Plan, error) {
	in, err := validate("plans.UpdatePlan", in)
	if err != nil {
		return nil, err
	}
	plan, err := s.repo.GetPlan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update plan %d: %w", id, err)
	}
	plan.Name = in.Name
	plan.DurationMonths = in.DurationMonths
	plan.Charge = in.Charge
	plan.ServiceType = in.ServiceType
	if err := s.repo.UpdatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("update plan %d: %w", id, err)
	}
	return plan, nil
}

func (s *service) DeletePlan(ctx context.Context, id int64) error {
	if err := s.repo.DeletePlan(ctx, id); err != nil {
		return fmt.Errorf("delete plan %d: %w", id, err)
	}
	s.logger.Info("plan deleted", zap.Int64("plan_id", id))
	return nil
}
