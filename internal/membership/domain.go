package membership

import (
	"context"
	"time"

	"gymdesk/internal/eventstore"
)

// Status of a member account.
type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// Member is a registered gym member.
type Member struct {
	ID        int64     `json:"id" db:"id"`
	Code      string    `json:"member_code" db:"member_code"`
	Name      string    `json:"name" db:"name"`
	Gender    string    `json:"gender,omitempty" db:"gender"`
	Contact   string    `json:"contact,omitempty" db:"contact"`
	Email     string    `json:"email,omitempty" db:"email"`
	PlanID    *int64    `json:"plan_id" db:"plan_id"`
	Status    Status    `json:"status" db:"status"`
	JoinDate  time.Time `json:"join_date" db:"join_date"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Active reports whether the member may check in.
func (m *Member) Active() bool {
	return m.Status == StatusActive
}

// Registration is the input of RegisterMember.
type Registration struct {
	Name    string  `json:"name"`
	Gender  string  `json:"gender"`
	Contact string  `json:"contact"`
	Email   string  `json:"email"`
	PlanID  *int64  `json:"plan_id"`
	Status  *Status `json:"status"`
}

// Update is the input of UpdateMember. Nil fields are left unchanged;
// ClearPlan removes the plan reference.
type Update struct {
	Name      *string `json:"name"`
	Gender    *string `json:"gender"`
	Contact   *string `json:"contact"`
	Email     *string `json:"email"`
	PlanID    *int64  `json:"plan_id"`
	ClearPlan bool    `json:"clear_plan"`
	Status    *Status `json:"status"`
}

// Events recorded against the member aggregate.
const (
	EventMemberRegistered            = "MemberRegistered"
	EventMemberUpdated               = "MemberUpdated"
	EventMemberDeactivated           = "MemberDeactivated"
	EventMemberReactivated           = "MemberReactivated"
	EventSessionClosedOnDeactivation = "SessionClosedOnDeactivation"
)

// MemberRegisteredEvent is recorded when a member registers.
type MemberRegisteredEvent struct {
	ID     int64  `json:"id"`
	Code   string `json:"member_code"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// MemberUpdatedEvent is recorded on any profile change.
type MemberUpdatedEvent struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	PlanID *int64 `json:"plan_id"`
	Status Status `json:"status"`
}

// SessionClosedEvent is recorded when deactivation closes an open visit.
type SessionClosedEvent struct {
	SessionID int64     `json:"session_id"`
	MemberID  int64     `json:"member_id"`
	CheckOut  time.Time `json:"check_out"`
}

// Repository is the member storage used by the service.
type Repository interface {
	// WithinTx runs fn in one storage transaction; any error rolls it back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	MaxCode(ctx context.Context) (string, error)
	GetByID(ctx context.Context, id int64) (*Member, error)
	GetByCode(ctx context.Context, code string) (*Member, error)
	List(ctx context.Context) ([]*Member, error)
	Events(ctx context.Context, memberID int64) ([]eventstore.Event, error)
}

// Tx is the transactional view of member storage.
type Tx interface {
	// LockCodes serializes code allocation until the transaction ends.
	LockCodes(ctx context.Context) error
	MaxCode(ctx context.Context) (string, error)
	PlanExists(ctx context.Context, planID int64) (bool, error)
	InsertMember(ctx context.Context, m *Member) error
	LockMember(ctx context.Context, id int64) (*Member, error)
	UpdateMember(ctx context.Context, m *Member) error
	DeleteMember(ctx context.Context, id int64) error
	// CloseOpenSession closes the member's open session, if any, and
	// returns its id.
	CloseOpenSession(ctx context.Context, memberID int64, at time.Time) (int64, bool, error)
	HasOpenSession(ctx context.Context, memberID int64) (bool, error)
	AppendEvent(ctx context.Context, e eventstore.Event) error
}
