package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gymdesk/internal/apperr"
	"gymdesk/internal/attendance"
	"gymdesk/internal/clock"
	"gymdesk/internal/eventstore"
	"gymdesk/internal/membership"
	"gymdesk/internal/payments"
	"gymdesk/internal/plans"
)

// setupTestDB connects to the PostgreSQL described by the PG* environment
// variables, migrates it and empties every table. It skips the test when
// no database is reachable.
func setupTestDB(t testing.TB) *Store {
	t.Helper()

	env := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		env("PGHOST", "localhost"), env("PGPORT", "5432"), env("PGUSER", "user"),
		env("PGPASSWORD", "password"), env("PGDATABASE", "testdb"))

	db, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)
	if err := db.Ping(); err != nil {
		t.Skipf("skipping postgres tests: could not connect to postgres: %v", err)
	}
	require.NoError(t, Migrate(db.DB))
	_, err = db.Exec(`TRUNCATE events, payments, attendance, members, plans RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return New(db, Config{}, zap.NewNop())
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name   string
		fkKind apperr.Kind
		err    error
		want   apperr.Kind
	}{
		{"open session index", apperr.KindUnknown,
			&pq.Error{Code: "23505", Constraint: constraintOneOpenSess}, apperr.KindAlreadyCheckedIn},
		{"member code", apperr.KindUnknown,
			&pq.Error{Code: "23505", Constraint: constraintMemberCode}, apperr.KindAllocationConflict},
		{"fk on delete", apperr.KindReferenced,
			&pq.Error{Code: "23503", Constraint: "attendance_member_id_fkey"}, apperr.KindReferenced},
		{"fk on insert", apperr.KindNotFound,
			&pq.Error{Code: "23503", Constraint: "payments_plan_id_fkey"}, apperr.KindNotFound},
		{"connection failure", apperr.KindUnknown,
			&pq.Error{Code: "08006"}, apperr.KindStorageUnavailable},
		{"bad conn", apperr.KindUnknown, driver.ErrBadConn, apperr.KindStorageUnavailable},
		{"canceled", apperr.KindUnknown, context.Canceled, apperr.KindStorageUnavailable},
		{"deadline", apperr.KindUnknown, fmt.Errorf("query: %w", context.DeadlineExceeded), apperr.KindStorageUnavailable},
		{"check constraint", apperr.KindUnknown,
			&pq.Error{Code: "23514", Constraint: "attendance_check"}, apperr.KindInvalid},
		{"event version race", apperr.KindUnknown, eventstore.ErrConcurrencyConflict, apperr.KindAllocationConflict},
		{"other", apperr.KindUnknown, errors.New("boom"), apperr.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate("op", tt.fkKind, tt.err)
			require.Error(t, got)
			assert.Equal(t, tt.want, apperr.KindOf(got))
		})
	}

	assert.NoError(t, translate("op", apperr.KindUnknown, nil))
	typed := apperr.E(apperr.KindNoOpenSession, "op", "x")
	assert.Same(t, typed, translate("op", apperr.KindUnknown, typed))
}

type services struct {
	store   *Store
	members membership.Service
	ledger  attendance.Service
	plans   plans.Service
	pay     payments.Service
	clock   *clock.Manual
}

func newServices(t *testing.T) services {
	s := setupTestDB(t)
	clk := clock.NewManual(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	logger := zap.NewNop()
	return services{
		store:   s,
		members: membership.NewService(s.Members(), clk, time.UTC, logger, nil),
		ledger:  attendance.NewService(s.Attendance(), clk, time.UTC, logger, nil),
		plans:   plans.NewService(s, clk, logger),
		pay:     payments.NewService(s, clk, logger),
		clock:   clk,
	}
}

func TestPostgresRegistrationAndLedger(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	code, err := svc.members.AllocateNextCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "XF001", code)

	m, err := svc.members.RegisterMember(ctx, membership.Registration{Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "XF001", m.Code)

	code, err = svc.members.AllocateNextCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "XF002", code)

	_, err = svc.ledger.CheckIn(ctx, m.Code)
	require.NoError(t, err)
	_, err = svc.ledger.CheckIn(ctx, m.Code)
	assert.True(t, apperr.Is(err, apperr.KindAlreadyCheckedIn))

	svc.clock.Advance(75 * time.Minute)
	out, err := svc.ledger.CheckOut(ctx, m.Code)
	require.NoError(t, err)
	assert.Equal(t, attendance.Duration{Hours: 1, Minutes: 15}, out.Duration)

	_, err = svc.ledger.CheckOut(ctx, m.Code)
	assert.True(t, apperr.Is(err, apperr.KindNoOpenSession))

	history, err := svc.members.History(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, membership.EventMemberRegistered, history[0].EventType)

	err = svc.members.DeleteMember(ctx, m.ID)
	assert.True(t, apperr.Is(err, apperr.KindReferenced), "visits keep the member: %v", err)
}

func TestPostgresOpenSessionIndex(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	m, err := svc.members.RegisterMember(ctx, membership.Registration{Name: "Grace"})
	require.NoError(t, err)
	_, err = svc.ledger.CheckIn(ctx, m.Code)
	require.NoError(t, err)

	err = svc.store.Attendance().WithinTx(ctx, func(ctx context.Context, tx attendance.Tx) error {
		return tx.InsertSession(ctx, &attendance.Session{MemberID: m.ID, CheckIn: time.Now().UTC()})
	})
	assert.True(t, apperr.Is(err, apperr.KindAlreadyCheckedIn), "got %v", err)
}

func TestPostgresConcurrentCheckIn(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	m, err := svc.members.RegisterMember(ctx, membership.Registration{Name: "Linus"})
	require.NoError(t, err)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ledger.CheckIn(ctx, m.Code); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else {
				assert.True(t, apperr.Is(err, apperr.KindAlreadyCheckedIn), "got %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)

	open, err := svc.store.Attendance().CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, open)
}

func TestPostgresConcurrentRegistration(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	const workers = 10
	codes := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := svc.members.RegisterMember(ctx, membership.Registration{Name: fmt.Sprintf("member %d", i)})
			if assert.NoError(t, err) {
				codes <- m.Code
			}
		}(i)
	}
	wg.Wait()
	close(codes)

	seen := make(map[string]bool)
	for c := range codes {
		assert.False(t, seen[c], "duplicate code %s", c)
		seen[c] = true
	}
	assert.Len(t, seen, workers)
}

func TestPostgresPlansAndPayments(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	plan, err := svc.plans.CreatePlan(ctx, plans.Input{Name: "Monthly", DurationMonths: 1, Charge: decimal.RequireFromString("30.00")})
	require.NoError(t, err)
	m, err := svc.members.RegisterMember(ctx, membership.Registration{Name: "Edsger", PlanID: &plan.ID})
	require.NoError(t, err)

	_, err = svc.pay.RecordPayment(ctx, payments.Input{MemberID: m.ID, PlanID: plan.ID, Amount: decimal.RequireFromString("30")})
	require.NoError(t, err)
	_, err = svc.pay.RecordPayment(ctx, payments.Input{MemberID: m.ID, PlanID: 999, Amount: decimal.RequireFromString("30")})
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)

	rev, err := svc.pay.RevenueBetween(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, rev.Count)
	assert.True(t, decimal.RequireFromString("30").Equal(rev.Total))

	list, err := svc.pay.ListPayments(ctx, payments.Filter{MemberID: &m.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Monthly", list[0].PlanName)
	assert.Equal(t, m.Code, list[0].MemberCode)

	err = svc.plans.DeletePlan(ctx, plan.ID)
	assert.True(t, apperr.Is(err, apperr.KindReferenced), "got %v", err)
}

func TestPostgresMaxCodeSkipsMalformedCodes(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	legacy := &membership.Member{Code: "XF-LEGACY-00042", Name: "Legacy", Status: membership.StatusActive,
		JoinDate: svc.clock.Now()}
	require.NoError(t, svc.store.Members().WithinTx(ctx, func(ctx context.Context, tx membership.Tx) error {
		return tx.InsertMember(ctx, legacy)
	}))

	for _, want := range []string{"XF001", "XF002"} {
		m, err := svc.members.RegisterMember(ctx, membership.Registration{Name: want})
		require.NoError(t, err)
		assert.Equal(t, want, m.Code)
	}

	code, err := svc.store.Members().MaxCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "XF002", code)
}
