package payments

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Payment is a recorded payment for a member's plan.
type Payment struct {
	ID         int64           `json:"id" db:"id"`
	MemberID   int64           `json:"member_id" db:"member_id"`
	PlanID     int64           `json:"plan_id" db:"plan_id"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	PaidAt     time.Time       `json:"paid_at" db:"paid_at"`
	ReceiptNo  string          `json:"receipt_no,omitempty" db:"receipt_no"`
	MemberCode string          `json:"member_code,omitempty" db:"member_code"`
	MemberName string          `json:"member_name,omitempty" db:"member_name"`
	PlanName   string          `json:"plan_name,omitempty" db:"plan_name"`
}

// Input is the body of RecordPayment.
type Input struct {
	MemberID  int64           `json:"member_id"`
	PlanID    int64           `json:"plan_id"`
	Amount    decimal.Decimal `json:"amount"`
	ReceiptNo string          `json:"receipt_no"`
}

// Filter narrows ListPayments. Zero values do not filter; the time range
// is half-open.
type Filter struct {
	MemberID *int64
	From     time.Time
	To       time.Time
}

// Revenue is the count and sum of payments over a range.
type Revenue struct {
	Count int             `json:"payment_count"`
	Total decimal.Decimal `json:"total"`
}

// Repository is the payment storage used by the service.
type Repository interface {
	// RecordPayment inserts p, failing with NotFound when the member or
	// plan does not exist.
	RecordPayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	// ListPayments returns payments newest first.
	ListPayments(ctx context.Context, filter Filter) ([]Payment, error)
	DeletePayment(ctx context.Context, id int64) error
	// RevenueBetween sums payments with paid_at in [from, to). A zero bound
	// is open.
	RevenueBetween(ctx context.Context, from, to time.Time) (Revenue, error)
}
