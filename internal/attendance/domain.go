package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gymdesk/internal/eventstore"
	"gymdesk/internal/membership"
)

// Session is one visit. A nil CheckOut means the member is still inside.
type Session struct {
	ID       int64      `json:"id" db:"id"`
	MemberID int64      `json:"member_id" db:"member_id"`
	CheckIn  time.Time  `json:"check_in" db:"check_in"`
	CheckOut *time.Time `json:"check_out" db:"check_out"`
}

// Open reports whether the session has not been checked out.
func (s Session) Open() bool {
	return s.CheckOut == nil
}

// Duration reports the session length. Open sessions are in progress; the
// clock is never consulted.
func (s Session) Duration() Duration {
	if s.CheckOut == nil {
		return Duration{InProgress: true}
	}
	return NewDuration(s.CheckOut.Sub(s.CheckIn))
}

// Duration is a session length in whole hours and remaining minutes.
type Duration struct {
	Hours      int
	Minutes    int
	InProgress bool
}

// NewDuration truncates d to whole minutes. Negative spans count as zero.
func NewDuration(d time.Duration) Duration {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Minute)
	return Duration{Hours: total / 60, Minutes: total % 60}
}

func (d Duration) String() string {
	if d.InProgress {
		return "in progress"
	}
	return fmt.Sprintf("%dh %dm", d.Hours, d.Minutes)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Hours      int    `json:"hours"`
		Minutes    int    `json:"minutes"`
		InProgress bool   `json:"in_progress"`
		Display    string `json:"display"`
	}{d.Hours, d.Minutes, d.InProgress, d.String()})
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw struct {
		Hours      int  `json:"hours"`
		Minutes    int  `json:"minutes"`
		InProgress bool `json:"in_progress"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Duration{Hours: raw.Hours, Minutes: raw.Minutes, InProgress: raw.InProgress}
	return nil
}

// Visit is a session joined with the member it belongs to.
type Visit struct {
	Session
	MemberCode    string   `json:"member_code" db:"member_code"`
	MemberName    string   `json:"member_name" db:"member_name"`
	MemberContact string   `json:"contact,omitempty" db:"contact"`
	Length        Duration `json:"duration" db:"-"`
}

// VisitFilter narrows ListVisits. Zero values do not filter.
type VisitFilter struct {
	MemberID *int64
	OpenOnly bool
	From     time.Time
	To       time.Time
}

// CheckInReceipt is returned by a successful check-in.
type CheckInReceipt struct {
	SessionID  int64     `json:"attendance_id"`
	MemberID   int64     `json:"member_id"`
	MemberCode string    `json:"member_code"`
	MemberName string    `json:"member_name"`
	CheckIn    time.Time `json:"check_in_time"`
}

// CheckOutReceipt is returned by a successful check-out.
type CheckOutReceipt struct {
	SessionID  int64     `json:"attendance_id"`
	MemberCode string    `json:"member_code"`
	MemberName string    `json:"member_name"`
	CheckIn    time.Time `json:"check_in_time"`
	CheckOut   time.Time `json:"check_out_time"`
	Duration   Duration  `json:"duration"`
}

// Events recorded against the session aggregate.
const (
	EventCheckedIn  = "CheckedIn"
	EventCheckedOut = "CheckedOut"
)

// CheckedInEvent is recorded when a session opens.
type CheckedInEvent struct {
	SessionID  int64     `json:"session_id"`
	MemberID   int64     `json:"member_id"`
	MemberCode string    `json:"member_code"`
	CheckIn    time.Time `json:"check_in"`
}

// CheckedOutEvent is recorded when a session closes.
type CheckedOutEvent struct {
	SessionID int64     `json:"session_id"`
	MemberID  int64     `json:"member_id"`
	CheckOut  time.Time `json:"check_out"`
}

// Repository is the ledger storage used by the service.
type Repository interface {
	// WithinTx runs fn in one storage transaction; any error rolls it back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	ListVisits(ctx context.Context, filter VisitFilter) ([]Visit, error)
	// SessionsBetween returns sessions whose check-in is in [from, to).
	SessionsBetween(ctx context.Context, from, to time.Time) ([]Session, error)
	CountOpen(ctx context.Context) (int, error)
}

// Tx is the transactional view of the ledger.
type Tx interface {
	// LockMemberByCode resolves a member and holds it until the transaction
	// ends, so check-ins for one member run one at a time.
	LockMemberByCode(ctx context.Context, code string) (*membership.Member, error)
	// LatestOpenSession returns the most recent open session of a member,
	// or nil when there is none.
	LatestOpenSession(ctx context.Context, memberID int64) (*Session, error)
	InsertSession(ctx context.Context, s *Session) error
	CloseSession(ctx context.Context, id int64, at time.Time) error
	AppendEvent(ctx context.Context, e eventstore.Event) error
}
