package reporting

import (
	"context"
	"time"

	"gymdesk/internal/attendance"
	"gymdesk/internal/eventstore"
	"gymdesk/internal/membership"
	"gymdesk/internal/payments"
)

// DailySummary is today's occupancy.
type DailySummary struct {
	Date               string `json:"date"`
	TotalVisits        int    `json:"total_visits"`
	UniqueMembers      int    `json:"unique_members"`
	CurrentlyCheckedIn int    `json:"currently_checked_in"`
}

// DayStat is one row of a monthly report.
type DayStat struct {
	Date          string `json:"date"`
	TotalVisits   int    `json:"total_visits"`
	UniqueMembers int    `json:"unique_members"`
}

// MonthlyReport lists per-day attendance for a month, newest day first.
type MonthlyReport struct {
	Month         int              `json:"month"`
	Year          int              `json:"year"`
	Days          []DayStat        `json:"days"`
	TotalVisits   int              `json:"total_visits"`
	UniqueMembers int              `json:"unique_members"`
	Revenue       payments.Revenue `json:"revenue"`
}

// MemberStats counts members by status.
type MemberStats struct {
	Total       int `json:"total"`
	Active      int `json:"active"`
	Inactive    int `json:"inactive"`
	JoinedToday int `json:"joined_today"`
}

// AttendanceStats is the occupancy part of the dashboard.
type AttendanceStats struct {
	VisitsToday        int `json:"visits_today"`
	CurrentlyCheckedIn int `json:"currently_checked_in"`
}

// RevenueStats is the payment part of the dashboard.
type RevenueStats struct {
	Today     payments.Revenue `json:"today"`
	ThisMonth payments.Revenue `json:"this_month"`
	AllTime   payments.Revenue `json:"all_time"`
}

// Dashboard is the front-desk overview.
type Dashboard struct {
	Members    MemberStats     `json:"members"`
	Attendance AttendanceStats `json:"attendance"`
	Revenue    RevenueStats    `json:"revenue"`
}

// SessionSource reads the session ledger.
type SessionSource interface {
	// SessionsBetween returns sessions whose check-in is in [from, to).
	SessionsBetween(ctx context.Context, from, to time.Time) ([]attendance.Session, error)
	CountOpen(ctx context.Context) (int, error)
}

// PaymentSource sums recorded payments.
type PaymentSource interface {
	RevenueBetween(ctx context.Context, from, to time.Time) (payments.Revenue, error)
}

// MemberSource lists registered members.
type MemberSource interface {
	List(ctx context.Context) ([]*membership.Member, error)
}

// EventSource reads the audit log.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]eventstore.Event, error)
}
