// Package memory is an in-process store. Every transaction works on a
// private copy of the state that replaces the shared one only on success,
// and one mutex serializes all writers.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gymdesk/internal/apperr"
	"gymdesk/internal/attendance"
	"gymdesk/internal/eventstore"
	"gymdesk/internal/membership"
	"gymdesk/internal/payments"
	"gymdesk/internal/plans"
)

var (
	_ membership.Repository = (*MemberRepo)(nil)
	_ membership.Tx         = (*tx)(nil)
	_ attendance.Repository = (*LedgerRepo)(nil)
	_ attendance.Tx         = (*tx)(nil)
	_ plans.Repository      = (*Store)(nil)
	_ payments.Repository   = (*Store)(nil)
)

// FaultFunc is consulted before each transactional write; a non-nil error
// aborts the transaction. Tests use it to check atomicity.
type FaultFunc func(op string) error

type state struct {
	members  map[int64]membership.Member
	sessions map[int64]attendance.Session
	plans    map[int64]plans.Plan
	payments map[int64]payments.Payment
	events   []eventstore.Event

	lastMemberID  int64
	lastSessionID int64
	lastPlanID    int64
	lastPaymentID int64
}

func newState() *state {
	return &state{
		members:  make(map[int64]membership.Member),
		sessions: make(map[int64]attendance.Session),
		plans:    make(map[int64]plans.Plan),
		payments: make(map[int64]payments.Payment),
	}
}

func (s *state) clone() *state {
	c := *s
	c.members = make(map[int64]membership.Member, len(s.members))
	for k, v := range s.members {
		c.members[k] = v
	}
	c.sessions = make(map[int64]attendance.Session, len(s.sessions))
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	c.plans = make(map[int64]plans.Plan, len(s.plans))
	for k, v := range s.plans {
		c.plans[k] = v
	}
	c.payments = make(map[int64]payments.Payment, len(s.payments))
	for k, v := range s.payments {
		c.payments[k] = v
	}
	c.events = append([]eventstore.Event(nil), s.events...)
	return &c
}

// Store holds all engine state in memory.
type Store struct {
	mu    sync.RWMutex
	st    *state
	fault FaultFunc
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// SetFault installs f; nil removes it.
func (s *Store) SetFault(f FaultFunc) {
	s.mu.Lock()
	s.fault = f
	s.mu.Unlock()
}

// Members returns the member registry view of the store.
func (s *Store) Members() *MemberRepo { return &MemberRepo{s: s} }

// Attendance returns the session ledger view of the store.
func (s *Store) Attendance() *LedgerRepo { return &LedgerRepo{s: s} }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) withinTx(ctx context.Context, fn func(t *tx) error) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "memory.WithinTx", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &tx{st: s.st.clone(), fault: s.fault}
	if err := fn(t); err != nil {
		return err
	}
	s.st = t.st
	return nil
}

func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.st)
}

// tx implements both membership.Tx and attendance.Tx over a private copy.
type tx struct {
	st    *state
	fault FaultFunc
}

func (t *tx) check(op string) error {
	if t.fault == nil {
		return nil
	}
	if err := t.fault(op); err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "memory."+op, err)
	}
	return nil
}

// LockCodes is a no-op: the store mutex already serializes writers.
func (t *tx) LockCodes(context.Context) error { return nil }

func (t *tx) MaxCode(context.Context) (string, error) {
	return maxCode(t.st), nil
}

// maxCode ignores malformed codes so one legacy row cannot stall the sequence.
func maxCode(st *state) string {
	var max string
	for _, m := range st.members {
		if !membership.WellFormed(m.Code) {
			continue
		}
		if max == "" || membership.CodeLess(max, m.Code) {
			max = m.Code
		}
	}
	return max
}

func (t *tx) PlanExists(_ context.Context, planID int64) (bool, error) {
	_, ok := t.st.plans[planID]
	return ok, nil
}

func (t *tx) InsertMember(_ context.Context, m *membership.Member) error {
	const op = "InsertMember"
	if err := t.check(op); err != nil {
		return err
	}
	for _, existing := range t.st.members {
		if existing.Code == m.Code {
			return apperr.E(apperr.KindAllocationConflict, "memory."+op, "member code %s already issued", m.Code)
		}
	}
	t.st.lastMemberID++
	m.ID = t.st.lastMemberID
	t.st.members[m.ID] = *m
	return nil
}

func (t *tx) LockMember(_ context.Context, id int64) (*membership.Member, error) {
	m, ok := t.st.members[id]
	if !ok {
		return nil, apperr.E(apperr.KindNotFound, "memory.LockMember", "member %d not found", id)
	}
	return &m, nil
}

func (t *tx) LockMemberByCode(_ context.Context, code string) (*membership.Member, error) {
	for _, m := range t.st.members {
		if m.Code == code {
			m := m
			return &m, nil
		}
	}
	return nil, apperr.E(apperr.KindNotFound, "memory.LockMemberByCode", "member %s not found", code)
}

func (t *tx) UpdateMember(_ context.Context, m *membership.Member) error {
	const op = "UpdateMember"
	if err := t.check(op); err != nil {
		return err
	}
	if _, ok := t.st.members[m.ID]; !ok {
		return apperr.E(apperr.KindNotFound, "memory."+op, "member %d not found", m.ID)
	}
	if m.PlanID != nil {
		if _, ok := t.st.plans[*m.PlanID]; !ok {
			return apperr.E(apperr.KindNotFound, "memory."+op, "plan %d not found", *m.PlanID)
		}
	}
	t.st.members[m.ID] = *m
	return nil
}

func (t *tx) DeleteMember(_ context.Context, id int64) error {
	const op = "DeleteMember"
	if err := t.check(op); err != nil {
		return err
	}
	if _, ok := t.st.members[id]; !ok {
		return apperr.E(apperr.KindNotFound, "memory."+op, "member %d not found", id)
	}
	for _, sess := range t.st.sessions {
		if sess.MemberID == id {
			return apperr.E(apperr.KindReferenced, "memory."+op, "member %d has recorded visits", id)
		}
	}
	for _, p := range t.st.payments {
		if p.MemberID == id {
			return apperr.E(apperr.KindReferenced, "memory."+op, "member %d has recorded payments", id)
		}
	}
	delete(t.st.members, id)
	return nil
}

func (t *tx) openSession(memberID int64) (attendance.Session, bool) {
	var (
		latest attendance.Session
		found  bool
	)
	for _, sess := range t.st.sessions {
		if sess.MemberID != memberID || !sess.Open() {
			continue
		}
		if !found || sess.CheckIn.After(latest.CheckIn) ||
			(sess.CheckIn.Equal(latest.CheckIn) && sess.ID > latest.ID) {
			latest, found = sess, true
		}
	}
	return latest, found
}

func (t *tx) HasOpenSession(_ context.Context, memberID int64) (bool, error) {
	_, ok := t.openSession(memberID)
	return ok, nil
}

func (t *tx) LatestOpenSession(_ context.Context, memberID int64) (*attendance.Session, error) {
	sess, ok := t.openSession(memberID)
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (t *tx) CloseOpenSession(ctx context.Context, memberID int64, at time.Time) (int64, bool, error) {
	sess, ok := t.openSession(memberID)
	if !ok {
		return 0, false, nil
	}
	if err := t.CloseSession(ctx, sess.ID, at); err != nil {
		return 0, false, err
	}
	return sess.ID, true, nil
}

func (t *tx) InsertSession(_ context.Context, sess *attendance.Session) error {
	const op = "InsertSession"
	if err := t.check(op); err != nil {
		return err
	}
	if _, ok := t.st.members[sess.MemberID]; !ok {
		return apperr.E(apperr.KindNotFound, "memory."+op, "member %d not found", sess.MemberID)
	}
	if _, open := t.openSession(sess.MemberID); open {
		return apperr.E(apperr.KindAlreadyCheckedIn, "memory."+op, "member %d already has an open session", sess.MemberID)
	}
	t.st.lastSessionID++
	sess.ID = t.st.lastSessionID
	t.st.sessions[sess.ID] = *sess
	return nil
}

func (t *tx) CloseSession(_ context.Context, id int64, at time.Time) error {
	const op = "CloseSession"
	if err := t.check(op); err != nil {
		return err
	}
	sess, ok := t.st.sessions[id]
	if !ok || !sess.Open() {
		return apperr.E(apperr.KindNoOpenSession, "memory."+op, "session %d is not open", id)
	}
	out := at
	sess.CheckOut = &out
	t.st.sessions[id] = sess
	return nil
}

func (t *tx) AppendEvent(_ context.Context, e eventstore.Event) error {
	const op = "AppendEvent"
	if err := t.check(op); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return apperr.Wrap(apperr.KindInvalid, "memory."+op, err)
	}
	version := 0
	for _, existing := range t.st.events {
		if existing.AggregateType == e.AggregateType && existing.AggregateID == e.AggregateID && existing.Version > version {
			version = existing.Version
		}
	}
	e.Version = version + 1
	e.ID = int64(len(t.st.events) + 1)
	t.st.events = append(t.st.events, e)
	return nil
}

// MemberRepo implements membership.Repository.
type MemberRepo struct{ s *Store }

func (r *MemberRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx membership.Tx) error) error {
	return r.s.withinTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (r *MemberRepo) MaxCode(context.Context) (string, error) {
	var code string
	r.s.read(func(st *state) { code = maxCode(st) })
	return code, nil
}

func (r *MemberRepo) GetByID(_ context.Context, id int64) (*membership.Member, error) {
	var (
		m  membership.Member
		ok bool
	)
	r.s.read(func(st *state) { m, ok = st.members[id] })
	if !ok {
		return nil, apperr.E(apperr.KindNotFound, "memory.GetByID", "member %d not found", id)
	}
	return &m, nil
}

func (r *MemberRepo) GetByCode(_ context.Context, code string) (*membership.Member, error) {
	var found *membership.Member
	r.s.read(func(st *state) {
		for _, m := range st.members {
			if m.Code == code {
				m := m
				found = &m
				return
			}
		}
	})
	if found == nil {
		return nil, apperr.E(apperr.KindNotFound, "memory.GetByCode", "member %s not found", code)
	}
	return found, nil
}

// List returns members newest first.
func (r *MemberRepo) List(context.Context) ([]*membership.Member, error) {
	var out []*membership.Member
	r.s.read(func(st *state) {
		out = make([]*membership.Member, 0, len(st.members))
		for _, m := range st.members {
			m := m
			out = append(out, &m)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *MemberRepo) Events(_ context.Context, memberID int64) ([]eventstore.Event, error) {
	var out []eventstore.Event
	r.s.read(func(st *state) {
		for _, e := range st.events {
			if e.AggregateType == eventstore.AggregateMember && e.AggregateID == memberID {
				out = append(out, e)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// LedgerRepo implements attendance.Repository.
type LedgerRepo struct{ s *Store }

func (r *LedgerRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx attendance.Tx) error) error {
	return r.s.withinTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (r *LedgerRepo) ListVisits(_ context.Context, f attendance.VisitFilter) ([]attendance.Visit, error) {
	var out []attendance.Visit
	r.s.read(func(st *state) {
		for _, sess := range st.sessions {
			if f.MemberID != nil && sess.MemberID != *f.MemberID {
				continue
			}
			if f.OpenOnly && !sess.Open() {
				continue
			}
			if !f.From.IsZero() && sess.CheckIn.Before(f.From) {
				continue
			}
			if !f.To.IsZero() && !sess.CheckIn.Before(f.To) {
				continue
			}
			m := st.members[sess.MemberID]
			out = append(out, attendance.Visit{
				Session:       sess,
				MemberCode:    m.Code,
				MemberName:    m.Name,
				MemberContact: m.Contact,
			})
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CheckIn.Equal(out[j].CheckIn) {
			return out[i].CheckIn.After(out[j].CheckIn)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *LedgerRepo) SessionsBetween(_ context.Context, from, to time.Time) ([]attendance.Session, error) {
	var out []attendance.Session
	r.s.read(func(st *state) {
		for _, sess := range st.sessions {
			if !sess.CheckIn.Before(from) && sess.CheckIn.Before(to) {
				out = append(out, sess)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *LedgerRepo) CountOpen(context.Context) (int, error) {
	n := 0
	r.s.read(func(st *state) {
		for _, sess := range st.sessions {
			if sess.Open() {
				n++
			}
		}
	})
	return n, nil
}

// Recent returns the newest audit events across aggregates.
func (s *Store) Recent(_ context.Context, limit int) ([]eventstore.Event, error) {
	var out []eventstore.Event
	s.read(func(st *state) {
		for i := len(st.events) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, st.events[i])
		}
	})
	return out, nil
}

func (s *Store) CreatePlan(_ context.Context, p *plans.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.lastPlanID++
	p.ID = s.st.lastPlanID
	s.st.plans[p.ID] = *p
	return nil
}

func (s *Store) GetPlan(_ context.Context, id int64) (*plans.Plan, error) {
	var (
		p  plans.Plan
		ok bool
	)
	s.read(func(st *state) { p, ok = st.plans[id] })
	if !ok {
		return nil, apperr.E(apperr.KindNotFound, "memory.GetPlan", "plan %d not found", id)
	}
	return &p, nil
}

// ListPlans returns plans cheapest first.
func (s *Store) ListPlans(context.Context) ([]*plans.Plan, error) {
	var out []*plans.Plan
	s.read(func(st *state) {
		out = make([]*plans.Plan, 0, len(st.plans))
		for _, p := range st.plans {
			p := p
			out = append(out, &p)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Charge.Cmp(out[j].Charge); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdatePlan(_ context.Context, p *plans.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.plans[p.ID]; !ok {
		return apperr.E(apperr.KindNotFound, "memory.UpdatePlan", "plan %d not found", p.ID)
	}
	s.st.plans[p.ID] = *p
	return nil
}

func (s *Store) DeletePlan(_ context.Context, id int64) error {
	const op = "memory.DeletePlan"
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.plans[id]; !ok {
		return apperr.E(apperr.KindNotFound, op, "plan %d not found", id)
	}
	for _, m := range s.st.members {
		if m.PlanID != nil && *m.PlanID == id {
			return apperr.E(apperr.KindReferenced, op, "plan %d is assigned to members", id)
		}
	}
	for _, p := range s.st.payments {
		if p.PlanID == id {
			return apperr.E(apperr.KindReferenced, op, "plan %d has recorded payments", id)
		}
	}
	delete(s.st.plans, id)
	return nil
}

func (s *Store) RecordPayment(_ context.Context, p *payments.Payment) error {
	const op = "memory.RecordPayment"
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.members[p.MemberID]; !ok {
		return apperr.E(apperr.KindNotFound, op, "member %d not found", p.MemberID)
	}
	if _, ok := s.st.plans[p.PlanID]; !ok {
		return apperr.E(apperr.KindNotFound, op, "plan %d not found", p.PlanID)
	}
	s.st.lastPaymentID++
	p.ID = s.st.lastPaymentID
	s.st.payments[p.ID] = *p
	return nil
}

func joinPayment(st *state, p payments.Payment) payments.Payment {
	if m, ok := st.members[p.MemberID]; ok {
		p.MemberCode, p.MemberName = m.Code, m.Name
	}
	if pl, ok := st.plans[p.PlanID]; ok {
		p.PlanName = pl.Name
	}
	return p
}

func (s *Store) GetPayment(_ context.Context, id int64) (*payments.Payment, error) {
	var (
		p  payments.Payment
		ok bool
	)
	s.read(func(st *state) {
		p, ok = st.payments[id]
		if ok {
			p = joinPayment(st, p)
		}
	})
	if !ok {
		return nil, apperr.E(apperr.KindNotFound, "memory.GetPayment", "payment %d not found", id)
	}
	return &p, nil
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func (s *Store) ListPayments(_ context.Context, f payments.Filter) ([]payments.Payment, error) {
	var out []payments.Payment
	s.read(func(st *state) {
		for _, p := range st.payments {
			if f.MemberID != nil && p.MemberID != *f.MemberID {
				continue
			}
			if !inRange(p.PaidAt, f.From, f.To) {
				continue
			}
			out = append(out, joinPayment(st, p))
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaidAt.Equal(out[j].PaidAt) {
			return out[i].PaidAt.After(out[j].PaidAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) DeletePayment(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.payments[id]; !ok {
		return apperr.E(apperr.KindNotFound, "memory.DeletePayment", "payment %d not found", id)
	}
	delete(s.st.payments, id)
	return nil
}

func (s *Store) RevenueBetween(_ context.Context, from, to time.Time) (payments.Revenue, error) {
	rev := payments.Revenue{Total: decimal.Zero}
	s.read(func(st *state) {
		for _, p := range st.payments {
			if inRange(p.PaidAt, from, to) {
				rev.Count++
				rev.Total = rev.Total.Add(p.Amount)
			}
		}
	})
	return rev, nil
}
