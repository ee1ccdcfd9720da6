package plans

import "context"

// Service defines the plan catalogue operations.
type Service interface {
	CreatePlan(ctx context.Context, in Input) (*Plan, error)
	GetPlan(ctx context.Context, id int64) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)
	UpdatePlan(ctx context.Context, id int64, in Input) (*Plan, error)
	DeletePlan(ctx context.Context, id int64) error
}
