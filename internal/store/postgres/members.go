package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gymdesk/internal/apperr"
	"gymdesk/internal/eventstore"
	"gymdesk/internal/membership"
)

const memberColumns = `id, member_code, name, gender, contact, email, plan_id, status, join_date, created_at, updated_at`

// Only well-formed codes take part, ordered by their sequence number.
const maxCodeQuery = `
	SELECT member_code FROM members
	WHERE member_code ~ '^XF[0-9]+$'
	ORDER BY CAST(SUBSTRING(member_code FROM 3) AS NUMERIC) DESC
	LIMIT 1`

func (t *tx) LockCodes(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, codeLockKey)
	return translate("postgres.LockCodes", apperr.KindUnknown, err)
}

func (t *tx) MaxCode(ctx context.Context) (string, error) {
	var code string
	err := t.tx.GetContext(ctx, &code, maxCodeQuery)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return code, translate("postgres.MaxCode", apperr.KindUnknown, err)
}

func (t *tx) PlanExists(ctx context.Context, planID int64) (bool, error) {
	var ok bool
	err := t.tx.GetContext(ctx, &ok, `SELECT EXISTS (SELECT 1 FROM plans WHERE id = $1)`, planID)
	return ok, translate("postgres.PlanExists", apperr.KindUnknown, err)
}

func (t *tx) InsertMember(ctx context.Context, m *membership.Member) error {
	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO members (member_code, name, gender, contact, email, plan_id, status, join_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, m.Code, m.Name, m.Gender, m.Contact, m.Email, m.PlanID, m.Status, m.JoinDate, m.CreatedAt, m.UpdatedAt).Scan(&m.ID)
	return translate("postgres.InsertMember", apperr.KindNotFound, err)
}

func (t *tx) lockMemberWhere(ctx context.Context, op, where string, arg interface{}) (*membership.Member, error) {
	var m membership.Member
	err := t.tx.GetContext(ctx, &m, `SELECT `+memberColumns+` FROM members WHERE `+where+` FOR UPDATE`, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.E(apperr.KindNotFound, op, "member %v not found", arg)
	}
	if err != nil {
		return nil, translate(op, apperr.KindUnknown, err)
	}
	return &m, nil
}

func (t *tx) LockMember(ctx context.Context, id int64) (*membership.Member, error) {
	return t.lockMemberWhere(ctx, "postgres.LockMember", "id = $1", id)
}

func (t *tx) LockMemberByCode(ctx context.Context, code string) (*membership.Member, error) {
	return t.lockMemberWhere(ctx, "postgres.LockMemberByCode", "member_code = $1", code)
}

func (t *tx) UpdateMember(ctx context.Context, m *membership.Member) error {
	const op = "postgres.UpdateMember"
	res, err := t.tx.ExecContext(ctx, `
		UPDATE members
		SET name = $2, gender = $3, contact = $4, email = $5, plan_id = $6, status = $7, updated_at = $8
		WHERE id = $1
	`, m.ID, m.Name, m.Gender, m.Contact, m.Email, m.PlanID, m.Status, m.UpdatedAt)
	if err != nil {
		return translate(op, apperr.KindNotFound, err)
	}
	return requireRow(op, res, "member %d not found", m.ID)
}

func (t *tx) DeleteMember(ctx context.Context, id int64) error {
	const op = "postgres.DeleteMember"
	res, err := t.tx.ExecContext(ctx, `DELETE FROM members WHERE id = $1`, id)
	if err != nil {
		return translate(op, apperr.KindReferenced, err)
	}
	return requireRow(op, res, "member %d not found", id)
}

func (t *tx) HasOpenSession(ctx context.Context, memberID int64) (bool, error) {
	var ok bool
	err := t.tx.GetContext(ctx, &ok,
		`SELECT EXISTS (SELECT 1 FROM attendance WHERE member_id = $1 AND check_out IS NULL)`, memberID)
	return ok, translate("postgres.HasOpenSession", apperr.KindUnknown, err)
}

func (t *tx) CloseOpenSession(ctx context.Context, memberID int64, at time.Time) (int64, bool, error) {
	var id int64
	err := t.tx.GetContext(ctx, &id, `
		UPDATE attendance SET check_out = $2
		WHERE member_id = $1 AND check_out IS NULL
		RETURNING id
	`, memberID, at)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, translate("postgres.CloseOpenSession", apperr.KindUnknown, err)
	}
	return id, true, nil
}

func requireRow(op string, res sql.Result, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return translate(op, apperr.KindUnknown, err)
	}
	if n == 0 {
		return apperr.E(apperr.KindNotFound, op, format, args...)
	}
	return nil
}

// MemberRepo implements membership.Repository.
type MemberRepo struct{ s *Store }

func (r *MemberRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx membership.Tx) error) error {
	return r.s.withinTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (r *MemberRepo) MaxCode(ctx context.Context) (string, error) {
	var code string
	err := r.s.run("postgres.MaxCode", apperr.KindUnknown, func() error {
		err := r.s.db.GetContext(ctx, &code, maxCodeQuery)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	return code, err
}

func (r *MemberRepo) getWhere(ctx context.Context, op, where string, arg interface{}) (*membership.Member, error) {
	var m membership.Member
	found := true
	err := r.s.run(op, apperr.KindUnknown, func() error {
		err := r.s.db.GetContext(ctx, &m, `SELECT `+memberColumns+` FROM members WHERE `+where, arg)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.E(apperr.KindNotFound, op, "member %v not found", arg)
	}
	return &m, nil
}

func (r *MemberRepo) GetByID(ctx context.Context, id int64) (*membership.Member, error) {
	return r.getWhere(ctx, "postgres.GetByID", "id = $1", id)
}

func (r *MemberRepo) GetByCode(ctx context.Context, code string) (*membership.Member, error) {
	return r.getWhere(ctx, "postgres.GetByCode", "member_code = $1", code)
}

func (r *MemberRepo) List(ctx context.Context) ([]*membership.Member, error) {
	var members []*membership.Member
	err := r.s.run("postgres.ListMembers", apperr.KindUnknown, func() error {
		return r.s.db.SelectContext(ctx, &members, `SELECT `+memberColumns+` FROM members ORDER BY id DESC`)
	})
	return members, err
}

func (r *MemberRepo) Events(ctx context.Context, memberID int64) ([]eventstore.Event, error) {
	var events []eventstore.Event
	err := r.s.run("postgres.MemberEvents", apperr.KindUnknown, func() error {
		var err error
		events, err = r.s.events.Load(ctx, eventstore.AggregateMember, memberID)
		return err
	})
	return events, err
}
