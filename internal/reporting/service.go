package reporting

import (
	"context"

	"gymdesk/internal/eventstore"
)

// Service defines the read-side aggregates. Every call recomputes from
// storage.
type Service interface {
	TodaySummary(ctx context.Context) (*DailySummary, error)
	// MonthlyReport defaults a zero month or year to the current one.
	MonthlyReport(ctx context.Context, month, year int) (*MonthlyReport, error)
	Dashboard(ctx context.Context) (*Dashboard, error)
	RecentActivity(ctx context.Context, limit int) ([]eventstore.Event, error)
}
