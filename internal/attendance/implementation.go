package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"gymdesk/internal/apperr"
	"gymdesk/internal/caller"
	"gymdesk/internal/clock"
	"gymdesk/internal/eventstore"
	"gymdesk/internal/observability"
)

// service implements the Service interface.
type service struct {
	repo     Repository
	clock    clock.Clock
	location *time.Location
	logger   *zap.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
}

// NewService creates a new ledger service. Calendar days are taken in loc.
func NewService(repo Repository, clk clock.Clock, loc *time.Location, logger *zap.Logger, metrics *observability.Metrics) Service {
	if loc == nil {
		loc = time.Local
	}
	return &service{
		repo:     repo,
		clock:    clk,
		location: loc,
		logger:   logger,
		metrics:  metrics,
		tracer:   otel.Tracer("gymdesk/attendance"),
	}
}

// CheckIn opens a session for the member with the given code. Resolving the
// member, checking for an open session and inserting the new one happen in
// one transaction with the member row held.
func (s *service) CheckIn(ctx context.Context, memberCode string) (*CheckInReceipt, error) {
	const op = "attendance.CheckIn"
	code := strings.TrimSpace(memberCode)
	ctx, span := s.tracer.Start(ctx, "attendance.check_in",
		trace.WithAttributes(attribute.String("member.code", code)),
	)
	defer span.End()

	if code == "" {
		err := apperr.E(apperr.KindInvalid, op, "member code is required")
		s.metrics.ObserveCheckIn(err)
		return nil, err
	}

	var receipt *CheckInReceipt
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		member, err := tx.LockMemberByCode(ctx, code)
		if err != nil {
			return err
		}
		if !member.Active() {
			return apperr.E(apperr.KindInactiveMember, op, "member account %s is not active", member.Code)
		}
		open, err := tx.LatestOpenSession(ctx, member.ID)
		if err != nil {
			return err
		}
		if open != nil {
			return apperr.E(apperr.KindAlreadyCheckedIn, op, "member %s is already checked in", member.Code)
		}

		now := s.clock.Now().UTC()
		session := &Session{MemberID: member.ID, CheckIn: now}
		if err := tx.InsertSession(ctx, session); err != nil {
			return err
		}
		event, err := eventstore.New(eventstore.AggregateSession, session.ID, EventCheckedIn, CheckedInEvent{
			SessionID:  session.ID,
			MemberID:   member.ID,
			MemberCode: member.Code,
			CheckIn:    now,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, event.WithActor(caller.Username(ctx))); err != nil {
			return err
		}

		receipt = &CheckInReceipt{
			SessionID:  session.ID,
			MemberID:   member.ID,
			MemberCode: member.Code,
			MemberName: member.Name,
			CheckIn:    now,
		}
		return nil
	})
	s.metrics.ObserveCheckIn(err)
	if err != nil {
		span.RecordError(err)
		s.logger.Debug("check-in rejected", zap.String("member_code", code), zap.Error(err))
		return nil, fmt.Errorf("check in %s: %w", code, err)
	}

	s.logger.Info("member checked in",
		zap.String("member_code", receipt.MemberCode),
		zap.Int64("session_id", receipt.SessionID),
	)
	return receipt, nil
}

// CheckOut closes the member's most recent open session.
func (s *service) CheckOut(ctx context.Context, memberCode string) (*CheckOutReceipt, error) {
	const op = "attendance.CheckOut"
	code := strings.TrimSpace(memberCode)
	ctx, span := s.tracer.Start(ctx, "attendance.check_out",
		trace.WithAttributes(attribute.String("member.code", code)),
	)
	defer span.End()

	if code == "" {
		err := apperr.E(apperr.KindInvalid, op, "member code is required")
		s.metrics.ObserveCheckOut(err, 0)
		return nil, err
	}

	var receipt *CheckOutReceipt
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		member, err := tx.LockMemberByCode(ctx, code)
		if err != nil {
			return err
		}
		open, err := tx.LatestOpenSession(ctx, member.ID)
		if err != nil {
			return err
		}
		if open == nil {
			return apperr.E(apperr.KindNoOpenSession, op, "no active check-in found for member %s", member.Code)
		}

		now := s.clock.Now().UTC()
		if err := tx.CloseSession(ctx, open.ID, now); err != nil {
			return err
		}
		event, err := eventstore.New(eventstore.AggregateSession, open.ID, EventCheckedOut, CheckedOutEvent{
			SessionID: open.ID,
			MemberID:  member.ID,
			CheckOut:  now,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, event.WithActor(caller.Username(ctx))); err != nil {
			return err
		}

		closed := Session{ID: open.ID, MemberID: member.ID, CheckIn: open.CheckIn, CheckOut: &now}
		receipt = &CheckOutReceipt{
			SessionID:  open.ID,
			MemberCode: member.Code,
			MemberName: member.Name,
			CheckIn:    open.CheckIn,
			CheckOut:   now,
			Duration:   closed.Duration(),
		}
		return nil
	})
	if err != nil {
		s.metrics.ObserveCheckOut(err, 0)
		span.RecordError(err)
		s.logger.Debug("check-out rejected", zap.String("member_code", code), zap.Error(err))
		return nil, fmt.Errorf("check out %s: %w", code, err)
	}
	s.metrics.ObserveCheckOut(nil, receipt.CheckOut.Sub(receipt.CheckIn))

	s.logger.Info("member checked out",
		zap.String("member_code", receipt.MemberCode),
		zap.Int64("session_id", receipt.SessionID),
		zap.Stringer("duration", receipt.Duration),
	)
	return receipt, nil
}

// ListVisits returns sessions joined with member details, newest first.
func (s *service) ListVisits(ctx context.Context, filter VisitFilter) ([]Visit, error) {
	if filter.MemberID != nil && *filter.MemberID <= 0 {
		return nil, apperr.E(apperr.KindInvalid, "attendance.ListVisits", "member_id must be positive")
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, apperr.E(apperr.KindInvalid, "attendance.ListVisits", "from must be before to")
	}
	visits, err := s.repo.ListVisits(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	for i := range visits {
		visits[i].Length = visits[i].Session.Duration()
	}
	return visits, nil
}

// TodayVisits returns the sessions checked in on the current calendar day.
func (s *service) TodayVisits(ctx context.Context) ([]Visit, error) {
	start := clock.StartOfDay(s.clock.Now(), s.location)
	return s.ListVisits(ctx, VisitFilter{From: start, To: start.AddDate(0, 0, 1)})
}
