package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gymdesk/internal/apperr"
	"gymdesk/internal/attendance"
	"gymdesk/internal/clock"
	"gymdesk/internal/eventstore"
	"gymdesk/internal/membership"
	"gymdesk/internal/payments"
)

const (
	defaultActivityLimit = 10
	maxActivityLimit     = 100
)

// Sources bundles the readers the aggregator folds.
type Sources struct {
	Sessions SessionSource
	Payments PaymentSource
	Members  MemberSource
	Events   EventSource
}

type service struct {
	src      Sources
	clock    clock.Clock
	location *time.Location
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewService creates the aggregator. Calendar days are taken in loc.
func NewService(src Sources, clk clock.Clock, loc *time.Location, logger *zap.Logger) Service {
	if loc == nil {
		loc = time.Local
	}
	return &service{
		src:      src,
		clock:    clk,
		location: loc,
		logger:   logger,
		tracer:   otel.Tracer("gymdesk/reporting"),
	}
}

func (s *service) TodaySummary(ctx context.Context) (*DailySummary, error) {
	ctx, span := s.tracer.Start(ctx, "reporting.today_summary")
	defer span.End()

	start := clock.StartOfDay(s.clock.Now(), s.location)
	sessions, err := s.src.Sessions.SessionsBetween(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("today summary: %w", err)
	}
	return summarize(start, sessions), nil
}

func summarize(day time.Time, sessions []attendance.Session) *DailySummary {
	sum := &DailySummary{Date: day.Format(time.DateOnly)}
	members := make(map[int64]struct{}, len(sessions))
	for _, sess := range sessions {
		sum.TotalVisits++
		members[sess.MemberID] = struct{}{}
		if sess.Open() {
			sum.CurrentlyCheckedIn++
		}
	}
	sum.UniqueMembers = len(members)
	return sum
}

func (s *service) MonthlyReport(ctx context.Context, month, year int) (*MonthlyReport, error) {
	const op = "reporting.MonthlyReport"
	ctx, span := s.tracer.Start(ctx, "reporting.monthly_report")
	defer span.End()

	now := s.clock.Now().In(s.location)
	if month == 0 {
		month = int(now.Month())
	}
	if year == 0 {
		year = now.Year()
	}
	if month < 1 || month > 12 {
		return nil, apperr.E(apperr.KindInvalid, op, "month must be between 1 and 12, got %d", month)
	}
	if year < 1970 || year > 9999 {
		return nil, apperr.E(apperr.KindInvalid, op, "year must be between 1970 and 9999, got %d", year)
	}

	start, end := clock.MonthRange(year, time.Month(month), s.location)
	var (
		sessions []attendance.Session
		revenue  payments.Revenue
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sessions, err = s.src.Sessions.SessionsBetween(gctx, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		revenue, err = s.src.Payments.RevenueBetween(gctx, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("monthly report %04d-%02d: %w", year, month, err)
	}

	report := &MonthlyReport{Month: month, Year: year, Days: []DayStat{}, Revenue: revenue}
	perDay := make(map[string]map[int64]struct{})
	visits := make(map[string]int)
	allMembers := make(map[int64]struct{})
	for _, sess := range sessions {
		day := sess.CheckIn.In(s.location).Format(time.DateOnly)
		if perDay[day] == nil {
			perDay[day] = make(map[int64]struct{})
		}
		perDay[day][sess.MemberID] = struct{}{}
		visits[day]++
		allMembers[sess.MemberID] = struct{}{}
	}
	for day, members := range perDay {
		report.Days = append(report.Days, DayStat{
			Date:          day,
			TotalVisits:   visits[day],
			UniqueMembers: len(members),
		})
	}
	sort.Slice(report.Days, func(i, j int) bool { return report.Days[i].Date > report.Days[j].Date })
	report.TotalVisits = len(sessions)
	report.UniqueMembers = len(allMembers)
	return report, nil
}

// Dashboard reads members, the ledger and payments concurrently.
func (s *service) Dashboard(ctx context.Context) (*Dashboard, error) {
	ctx, span := s.tracer.Start(ctx, "reporting.dashboard")
	defer span.End()

	now := s.clock.Now()
	today := clock.StartOfDay(now, s.location)
	tomorrow := today.AddDate(0, 0, 1)
	local := now.In(s.location)
	monthStart, monthEnd := clock.MonthRange(local.Year(), local.Month(), s.location)

	var (
		d       Dashboard
		members []*membership.Member
		visits  []attendance.Session
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		members, err = s.src.Members.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		visits, err = s.src.Sessions.SessionsBetween(gctx, today, tomorrow)
		return err
	})
	g.Go(func() error {
		var err error
		d.Attendance.CurrentlyCheckedIn, err = s.src.Sessions.CountOpen(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		d.Revenue.Today, err = s.src.Payments.RevenueBetween(gctx, today, tomorrow)
		return err
	})
	g.Go(func() error {
		var err error
		d.Revenue.ThisMonth, err = s.src.Payments.RevenueBetween(gctx, monthStart, monthEnd)
		return err
	})
	g.Go(func() error {
		var err error
		d.Revenue.AllTime, err = s.src.Payments.RevenueBetween(gctx, time.Time{}, time.Time{})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}

	d.Attendance.VisitsToday = len(visits)
	for _, m := range members {
		d.Members.Total++
		if m.Active() {
			d.Members.Active++
		} else {
			d.Members.Inactive++
		}
		if clock.SameDate(m.JoinDate, now, s.location) {
			d.Members.JoinedToday++
		}
	}
	return &d, nil
}

func (s *service) RecentActivity(ctx context.Context, limit int) ([]eventstore.Event, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}
	events, err := s.src.Events.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	return events, nil
}
