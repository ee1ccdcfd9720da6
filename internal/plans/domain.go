package plans

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Plan is a subscription plan members can be assigned to.
type Plan struct {
	ID             int64           `json:"id" db:"id"`
	Name           string          `json:"plan_name" db:"name"`
	DurationMonths int             `json:"duration_months" db:"duration_months"`
	Charge         decimal.Decimal `json:"charge" db:"charge"`
	ServiceType    string          `json:"service_type" db:"service_type"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Input carries the writable plan fields for create and update.
type Input struct {
	Name           string          `json:"plan_name"`
	DurationMonths int             `json:"duration_months"`
	Charge         decimal.Decimal `json:"charge"`
	ServiceType    string          `json:"service_type"`
}

// Repository is the plan storage used by the service.
type Repository interface {
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, id int64) (*Plan, error)
	// ListPlans returns plans cheapest first.
	ListPlans(ctx context.Context) ([]*Plan, error)
	UpdatePlan(ctx context.Context, p *Plan) error
	// DeletePlan fails with a Referenced error while members use the plan.
	DeletePlan(ctx context.Context, id int64) error
}
