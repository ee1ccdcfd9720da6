package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gymdesk/internal/apperr"
	"gymdesk/internal/attendance"
)

func (t *tx) LatestOpenSession(ctx context.Context, memberID int64) (*attendance.Session, error) {
	var s attendance.Session
	err := t.tx.GetContext(ctx, &s, `
		SELECT id, member_id, check_in, check_out
		FROM attendance
		WHERE member_id = $1 AND check_out IS NULL
		ORDER BY check_in DESC, id DESC
		LIMIT 1
		FOR UPDATE
	`, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translate("postgres.LatestOpenSession", apperr.KindUnknown, err)
	}
	return &s, nil
}

func (t *tx) InsertSession(ctx context.Context, s *attendance.Session) error {
	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO attendance (member_id, check_in) VALUES ($1, $2) RETURNING id
	`, s.MemberID, s.CheckIn).Scan(&s.ID)
	return translate("postgres.InsertSession", apperr.KindNotFound, err)
}

func (t *tx) CloseSession(ctx context.Context, id int64, at time.Time) error {
	const op = "postgres.CloseSession"
	res, err := t.tx.ExecContext(ctx,
		`UPDATE attendance SET check_out = $2 WHERE id = $1 AND check_out IS NULL`, id, at)
	if err != nil {
		return translate(op, apperr.KindUnknown, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translate(op, apperr.KindUnknown, err)
	}
	if n == 0 {
		return apperr.E(apperr.KindNoOpenSession, op, "session %d is not open", id)
	}
	return nil
}

// LedgerRepo implements attendance.Repository.
type LedgerRepo struct{ s *Store }

func (r *LedgerRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx attendance.Tx) error) error {
	return r.s.withinTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (r *LedgerRepo) ListVisits(ctx context.Context, f attendance.VisitFilter) ([]attendance.Visit, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.MemberID != nil {
		where = append(where, "a.member_id = "+arg(*f.MemberID))
	}
	if f.OpenOnly {
		where = append(where, "a.check_out IS NULL")
	}
	if !f.From.IsZero() {
		where = append(where, "a.check_in >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "a.check_in < "+arg(f.To))
	}

	query := `
		SELECT a.id, a.member_id, a.check_in, a.check_out,
		       m.member_code, m.name AS member_name, m.contact
		FROM attendance a
		JOIN members m ON m.id = a.member_id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY a.check_in DESC, a.id DESC"

	var visits []attendance.Visit
	err := r.s.run("postgres.ListVisits", apperr.KindUnknown, func() error {
		return r.s.db.SelectContext(ctx, &visits, query, args...)
	})
	return visits, err
}

func (r *LedgerRepo) SessionsBetween(ctx context.Context, from, to time.Time) ([]attendance.Session, error) {
	var sessions []attendance.Session
	err := r.s.run("postgres.SessionsBetween", apperr.KindUnknown, func() error {
		return r.s.db.SelectContext(ctx, &sessions, `
			SELECT id, member_id, check_in, check_out
			FROM attendance
			WHERE check_in >= $1 AND check_in < $2
			ORDER BY id
		`, from, to)
	})
	return sessions, err
}

func (r *LedgerRepo) CountOpen(ctx context.Context) (int, error) {
	var n int
	err := r.s.run("postgres.CountOpen", apperr.KindUnknown, func() error {
		return r.s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM attendance WHERE check_out IS NULL`)
	})
	return n, err
}
