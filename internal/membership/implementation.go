package membership

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
	repo      Repository
	allocator *Allocator
	clock     clock.Clock
	location  *time.Location
	logger    *zap.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
}

// NewService creates a new membership service instance. Join dates are
// taken in loc.
func NewService(repo Repository, clk clock.Clock, loc *time.Location, logger *zap.Logger, metrics *observability.Metrics) Service {
	if loc == nil {
		loc = time.Local
	}
	return &service{
		repo:      repo,
		allocator: NewAllocator(clk, logger),
		clock:     clk,
		location:  loc,
		logger:    logger,
		metrics:   metrics,
		tracer:    otel.Tracer("gymdesk/membership"),
	}
}

// AllocateNextCode reports the code the next registration would receive.
func (s *service) AllocateNextCode(ctx context.Context) (string, error) {
	code, err := s.allocator.Next(ctx, s.repo)
	if err != nil {
		return "", fmt.Errorf("allocate member code: %w", err)
	}
	return code, nil
}

// RegisterMember creates a new member. Code allocation and the insert share
// one transaction that holds the allocation lock.
func (s *service) RegisterMember(ctx context.Context, reg Registration) (*Member, error) {
	const op = "membership.RegisterMember"
	ctx, span := s.tracer.Start(ctx, "membership.register")
	defer span.End()

	name := strings.TrimSpace(reg.Name)
	if name == "" {
		return nil, apperr.E(apperr.KindInvalid, op, "name is required")
	}
	status := StatusActive
	if reg.Status != nil {
		if !reg.Status.Valid() {
			return nil, apperr.E(apperr.KindInvalid, op, "unknown status %q", *reg.Status)
		}
		status = *reg.Status
	}
	if reg.PlanID != nil && *reg.PlanID <= 0 {
		return nil, apperr.E(apperr.KindInvalid, op, "plan_id must be positive")
	}

	now := s.clock.Now()
	member := &Member{
		Name:      name,
		Gender:    strings.TrimSpace(reg.Gender),
		Contact:   strings.TrimSpace(reg.Contact),
		Email:     strings.TrimSpace(reg.Email),
		PlanID:    reg.PlanID,
		Status:    status,
		JoinDate:  clock.Date(now, s.location),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockCodes(ctx); err != nil {
			return err
		}
		if member.PlanID != nil {
			if err := requirePlan(ctx, tx, op, *member.PlanID); err != nil {
				return err
			}
		}
		code, err := s.allocator.Next(ctx, tx)
		if err != nil {
			return err
		}
		member.Code = code
		if err := tx.InsertMember(ctx, member); err != nil {
			return err
		}
		event, err := eventstore.New(eventstore.AggregateMember, member.ID, EventMemberRegistered, MemberRegisteredEvent{
			ID:     member.ID,
			Code:   member.Code,
			Name:   member.Name,
			Status: member.Status,
		}, now)
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, event.WithActor(caller.Username(ctx)))
	})
	s.metrics.ObserveRegistration(err)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("register member: %w", err)
	}

	span.SetAttributes(attribute.String("member.code", member.Code))
	s.logger.Info("member registered",
		zap.Int64("member_id", member.ID),
		zap.String("member_code", member.Code),
	)
	return member, nil
}

func requirePlan(ctx context.Context, tx Tx, op string, planID int64) error {
	ok, err := tx.PlanExists(ctx, planID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.E(apperr.KindNotFound, op, "plan %d not found", planID)
	}
	return nil
}

// GetMember retrieves a member by internal id.
func (s *service) GetMember(ctx context.Context, id int64) (*Member, error) {
	member, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get member %d: %w", id, err)
	}
	return member, nil
}

// GetMemberByCode retrieves a member by external code.
func (s *service) GetMemberByCode(ctx context.Context, code string) (*Member, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.E(apperr.KindInvalid, "membership.GetMemberByCode", "member code is required")
	}
	member, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get member %s: %w", code, err)
	}
	return member, nil
}

// ListMembers returns all members, newest first.
func (s *service) ListMembers(ctx context.Context) ([]*Member, error) {
	members, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// UpdateMember changes the mutable fields of a member. Deactivating a member
// who is checked in closes the open session in the same transaction.
func (s *service) UpdateMember(ctx context.Context, id int64, upd Update) (*Member, error) {
	const op = "membership.UpdateMember"
	ctx, span := s.tracer.Start(ctx, "membership.update",
		trace.WithAttributes(attribute.Int64("member.id", id)),
	)
	defer span.End()

	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, apperr.E(apperr.KindInvalid, op, "name must not be empty")
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, apperr.E(apperr.KindInvalid, op, "unknown status %q", *upd.Status)
	}
	if upd.PlanID != nil && *upd.PlanID <= 0 {
		return nil, apperr.E(apperr.KindInvalid, op, "plan_id must be positive")
	}

	now := s.clock.Now()
	actor := caller.Username(ctx)
	var updated *Member
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		member, err := tx.LockMember(ctx, id)
		if err != nil {
			return err
		}
		wasActive := member.Active()

		if upd.Name != nil {
			member.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Gender != nil {
			member.Gender = strings.TrimSpace(*upd.Gender)
		}
		if upd.Contact != nil {
			member.Contact = strings.TrimSpace(*upd.Contact)
		}
		if upd.Email != nil {
			member.Email = strings.TrimSpace(*upd.Email)
		}
		switch {
		case upd.ClearPlan:
			member.PlanID = nil
		case upd.PlanID != nil:
			if err := requirePlan(ctx, tx, op, *upd.PlanID); err != nil {
				return err
			}
			planID := *upd.PlanID
			member.PlanID = &planID
		}
		if upd.Status != nil {
			member.Status = *upd.Status
		}
		member.UpdatedAt = now.UTC()

		if err := tx.UpdateMember(ctx, member); err != nil {
			return err
		}

		eventType := EventMemberUpdated
		switch {
		case wasActive && !member.Active():
			eventType = EventMemberDeactivated
		case !wasActive && member.Active():
			eventType = EventMemberReactivated
		}
		event, err := eventstore.New(eventstore.AggregateMember, member.ID, eventType, MemberUpdatedEvent{
			ID:     member.ID,
			Name:   member.Name,
			PlanID: member.PlanID,
			Status: member.Status,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, event.WithActor(actor)); err != nil {
			return err
		}

		if eventType == EventMemberDeactivated {
			if err := s.closeOnDeactivation(ctx, tx, member.ID, now, actor); err != nil {
				return err
			}
		}
		updated = member
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("update member %d: %w", id, err)
	}
	return updated, nil
}

func (s *service) closeOnDeactivation(ctx context.Context, tx Tx, memberID int64, now time.Time, actor string) error {
	sessionID, closed, err := tx.CloseOpenSession(ctx, memberID, now.UTC())
	if err != nil || !closed {
		return err
	}
	event, err := eventstore.New(eventstore.AggregateSession, sessionID, EventSessionClosedOnDeactivation, SessionClosedEvent{
		SessionID: sessionID,
		MemberID:  memberID,
		CheckOut:  now.UTC(),
	}, now)
	if err != nil {
		return err
	}
	if err := tx.AppendEvent(ctx, event.WithActor(actor)); err != nil {
		return err
	}
	s.logger.Info("open session closed on deactivation",
		zap.Int64("member_id", memberID),
		zap.Int64("session_id", sessionID),
	)
	return nil
}

// DeleteMember removes a member with no open session and no recorded history.
func (s *service) DeleteMember(ctx context.Context, id int64) error {
	const op = "membership.DeleteMember"
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		member, err := tx.LockMember(ctx, id)
		if err != nil {
			return err
		}
		open, err := tx.HasOpenSession(ctx, member.ID)
		if err != nil {
			return err
		}
		if open {
			return apperr.E(apperr.KindSessionOpen, op, "member %s is checked in; check out before deleting", member.Code)
		}
		return tx.DeleteMember(ctx, member.ID)
	})
	if err != nil {
		return fmt.Errorf("delete member %d: %w", id, err)
	}
	s.logger.Info("member deleted", zap.Int64("member_id", id))
	return nil
}

// History returns the audit events of a member.
func (s *service) History(ctx context.Context, id int64) ([]eventstore.Event, error) {
	if _, err := s.GetMember(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.repo.Events(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load member %d history: %w", id, err)
	}
	return events, nil
}
