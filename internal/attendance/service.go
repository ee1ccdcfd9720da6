package attendance

import "context"

// Service defines the session ledger operations.
type Service interface {
	CheckIn(ctx context.Context, memberCode string) (*CheckInReceipt, error)
	CheckOut(ctx context.Context, memberCode string) (*CheckOutReceipt, error)
	ListVisits(ctx context.Context, filter VisitFilter) ([]Visit, error)
	TodayVisits(ctx context.Context) ([]Visit, error)
}
