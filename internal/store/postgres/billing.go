package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gymdesk/internal/apperr"
	"gymdesk/internal/payments"
	"gymdesk/internal/plans"
)

const planColumns = `id, name, duration_months, charge, service_type, created_at`

func (s *Store) CreatePlan(ctx context.Context, p *plans.Plan) error {
	return s.run("postgres.CreatePlan", apperr.KindUnknown, func() error {
		return s.db.QueryRowxContext(ctx, `
			INSERT INTO plans (name, duration_months, charge, service_type, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, p.Name, p.DurationMonths, p.Charge, p.ServiceType, p.CreatedAt).Scan(&p.ID)
	})
}

func (s *Store) GetPlan(ctx context.Context, id int64) (*plans.Plan, error) {
	const op = "postgres.GetPlan"
	var p plans.Plan
	found := true
	err := s.run(op, apperr.KindUnknown, func() error {
		err := s.db.GetContext(ctx, &p, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
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
		return nil, apperr.E(apperr.KindNotFound, op, "plan %d not found", id)
	}
	return &p, nil
}

func (s *Store) ListPlans(ctx context.Context) ([]*plans.Plan, error) {
	var list []*plans.Plan
	err := s.run("postgres.ListPlans", apperr.KindUnknown, func() error {
		return s.db.SelectContext(ctx, &list, `SELECT `+planColumns+` FROM plans ORDER BY charge ASC, id ASC`)
	})
	return list, err
}

func (s *Store) UpdatePlan(ctx context.Context, p *plans.Plan) error {
	const op = "postgres.UpdatePlan"
	return s.run(op, apperr.KindUnknown, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE plans SET name = $2, duration_months = $3, charge = $4, service_type = $5
			WHERE id = $1
		`, p.ID, p.Name, p.DurationMonths, p.Charge, p.ServiceType)
		if err != nil {
			return err
		}
		return requireRow(op, res, "plan %d not found", p.ID)
	})
}

func (s *Store) DeletePlan(ctx context.Context, id int64) error {
	const op = "postgres.DeletePlan"
	return s.run(op, apperr.KindReferenced, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE id = $1`, id)
		if err != nil {
			return err
		}
		return requireRow(op, res, "plan %d not found", id)
	})
}

const paymentSelect = `
	SELECT p.id, p.member_id, p.plan_id, p.amount, p.paid_at, p.receipt_no,
	       m.member_code, m.name AS member_name, pl.name AS plan_name
	FROM payments p
	JOIN members m ON m.id = p.member_id
	JOIN plans pl ON pl.id = p.plan_id`

func (s *Store) RecordPayment(ctx context.Context, p *payments.Payment) error {
	return s.run("postgres.RecordPayment", apperr.KindNotFound, func() error {
		return s.db.QueryRowxContext(ctx, `
			INSERT INTO payments (member_id, plan_id, amount, paid_at, receipt_no)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, p.MemberID, p.PlanID, p.Amount, p.PaidAt, p.ReceiptNo).Scan(&p.ID)
	})
}

func (s *Store) GetPayment(ctx context.Context, id int64) (*payments.Payment, error) {
	const op = "postgres.GetPayment"
	var p payments.Payment
	found := true
	err := s.run(op, apperr.KindUnknown, func() error {
		err := s.db.GetContext(ctx, &p, paymentSelect+` WHERE p.id = $1`, id)
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
		return nil, apperr.E(apperr.KindNotFound, op, "payment %d not found", id)
	}
	return &p, nil
}

// paidAtRange renders the optional half-open range on column, numbering
// placeholders after the existing args.
func paidAtRange(column string, from, to time.Time, args []interface{}) ([]string, []interface{}) {
	var where []string
	if !from.IsZero() {
		args = append(args, from)
		where = append(where, fmt.Sprintf("%s >= $%d", column, len(args)))
	}
	if !to.IsZero() {
		args = append(args, to)
		where = append(where, fmt.Sprintf("%s < $%d", column, len(args)))
	}
	return where, args
}

func (s *Store) ListPayments(ctx context.Context, f payments.Filter) ([]payments.Payment, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.MemberID != nil {
		args = append(args, *f.MemberID)
		where = append(where, fmt.Sprintf("p.member_id = $%d", len(args)))
	}
	rangeWhere, args := paidAtRange("p.paid_at", f.From, f.To, args)
	where = append(where, rangeWhere...)

	query := paymentSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.paid_at DESC, p.id DESC"

	var list []payments.Payment
	err := s.run("postgres.ListPayments", apperr.KindUnknown, func() error {
		return s.db.SelectContext(ctx, &list, query, args...)
	})
	return list, err
}

func (s *Store) DeletePayment(ctx context.Context, id int64) error {
	const op = "postgres.DeletePayment"
	return s.run(op, apperr.KindReferenced, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM payments WHERE id = $1`, id)
		if err != nil {
			return err
		}
		return requireRow(op, res, "payment %d not found", id)
	})
}

func (s *Store) RevenueBetween(ctx context.Context, from, to time.Time) (payments.Revenue, error) {
	where, args := paidAtRange("paid_at", from, to, nil)
	query := `SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM payments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rev := payments.Revenue{Total: decimal.Zero}
	err := s.run("postgres.RevenueBetween", apperr.KindUnknown, func() error {
		return s.db.QueryRowxContext(ctx, query, args...).Scan(&rev.Count, &rev.Total)
	})
	return rev, err
}
