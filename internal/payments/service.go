package payments

import (
	"context"
	"time"
)

// Service defines the payment ledger operations.
type Service interface {
	RecordPayment(ctx context.Context, in Input) (*Payment, error)
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	ListPayments(ctx context.Context, filter Filter) ([]Payment, error)
	DeletePayment(ctx context.Context, id int64) error
	RevenueBetween(ctx context.Context, from, to time.Time) (Revenue, error)
}
