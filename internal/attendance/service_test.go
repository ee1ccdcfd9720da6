package attendance_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"gymdesk/internal/apperr"
	"gymdesk/internal/attendance"
	"gymdesk/internal/clock"
	"gymdesk/internal/membership"
	"gymdesk/internal/observability"
	"gymdesk/internal/store/memory"
)

var start = time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memory.Store
	clock   *clock.Manual
	metrics *observability.Metrics
	members membership.Service
	ledger  attendance.Service
}

func newFixture(t testing.TB) fixture {
	st := memory.New()
	clk := clock.NewManual(start)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return fixture{
		store:   st,
		clock:   clk,
		metrics: metrics,
		members: membership.NewService(st.Members(), clk, time.UTC, zap.NewNop(), metrics),
		ledger:  attendance.NewService(st.Attendance(), clk, time.UTC, zap.NewNop(), metrics),
	}
}

func (f fixture) register(t testing.TB, name string) *membership.Member {
	m, err := f.members.RegisterMember(context.Background(), membership.Registration{Name: name})
	require.NoError(t, err)
	return m
}

func TestCheckInCheckOutLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.register(t, "Ada")

	in, err := f.ledger.CheckIn(ctx, m.Code)
	require.NoError(t, err)
	assert.Equal(t, m.Code, in.MemberCode)
	assert.Equal(t, "Ada", in.MemberName)
	assert.True(t, in.CheckIn.Equal(start))

	f.clock.Advance(2*time.Hour + 5*time.Minute + 59*time.Second)
	out, err := f.ledger.CheckOut(ctx, m.Code)
	require.NoError(t, err)
	assert.Equal(t, in.SessionID, out.SessionID)
	assert.Equal(t, attendance.Duration{Hours: 2, Minutes: 5}, out.Duration)
	assert.Equal(t, "2h 5m", out.Duration.String())

	_, err = f.ledger.CheckOut(ctx, m.Code)
	assert.True(t, apperr.Is(err, apperr.KindNoOpenSession))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CheckInCounter("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CheckOutCounter("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CheckOutCounter("no_open_session")))
}

func TestDoubleCheckInCreatesNoRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.register(t, "Ada")

	_, err := f.ledger.CheckIn(ctx, m.Code)
	require.NoError(t, err)
	_, err = f.ledger.CheckIn(ctx, m.Code)
	assert.True(t, apperr.Is(err, apperr.KindAlreadyCheckedIn))
	assert.False(t, apperr.Retryable(err))

	visits, err := f.ledger.ListVisits(ctx, attendance.VisitFilter{})
	require.NoError(t, err)
	assert.Len(t, visits, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CheckInCounter("already_checked_in")))
}

func TestCheckOutWithoutSessionMutatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.register(t, "Ada")

	_, err := f.ledger.CheckOut(ctx, m.Code)
	assert.True(t, apperr.Is(err, apperr.KindNoOpenSession))

	visits, err := f.ledger.ListVisits(ctx, attendance.VisitFilter{})
	require.NoError(t, err)
	assert.Empty(t, visits)
}

func TestCheckInRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.CheckIn(ctx, "   ")
	assert.True(t, apperr.Is(err, apperr.KindInvalid))

	_, err = f.ledger.CheckIn(ctx, "XF404")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.ledger.CheckOut(ctx, "XF404")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	inactive := membership.StatusInactive
	m, err := f.members.RegisterMember(ctx, membership.Registration{Name: "Idle", Status: &inactive})
	require.NoError(t, err)
	_, err = f.ledger.CheckIn(ctx, m.Code)
	assert.True(t, apperr.Is(err, apperr.KindInactiveMember))
}

func TestConcurrentCheckInExactlyOneSucceeds(t *testing.T) {
	f := newFixture(t)
	m := f.register(t, "Ada")

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.CheckIn(context.Background(), m.Code)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case apperr.Is(err, apperr.KindAlreadyCheckedIn):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
	assert.Equal(t, workers-1, rejected)
}

func TestCheckInIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.register(t, "Ada")

	f.store.SetFault(func(op string) error {
		if op == "AppendEvent" {
			return errors.New("log unavailable")
		}
		return nil
	})
	_, err := f.ledger.CheckIn(ctx, m.Code)
	require.Error(t, err)
	assert.True(t, apperr.Retryable(err))

	open, err := f.store.Attendance().CountOpen(ctx)
	require.NoError(t, err)
	assert.Zero(t, open, "a failed audit append leaves no session behind")

	f.store.SetFault(nil)
	_, err = f.ledger.CheckIn(ctx, m.Code)
	require.NoError(t, err)
}

func TestListVisits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "Ada")
	b := f.register(t, "Bob")

	_, err := f.ledger.CheckIn(ctx, a.Code)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.ledger.CheckOut(ctx, a.Code)
	require.NoError(t, err)
	_, err = f.ledger.CheckIn(ctx, b.Code)
	require.NoError(t, err)

	all, err := f.ledger.ListVisits(ctx, attendance.VisitFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.Code, all[0].MemberCode, "newest first")
	assert.True(t, all[0].Length.InProgress)
	assert.Equal(t, attendance.Duration{Hours: 1}, all[1].Length)

	open, err := f.ledger.ListVisits(ctx, attendance.VisitFilter{OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "Bob", open[0].MemberName)

	mine, err := f.ledger.ListVisits(ctx, attendance.VisitFilter{MemberID: &a.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)

	_, err = f.ledger.ListVisits(ctx, attendance.VisitFilter{From: start.Add(time.Hour), To: start})
	assert.True(t, apperr.Is(err, apperr.KindInvalid))

	f.clock.Advance(24 * time.Hour)
	today, err := f.ledger.TodayVisits(ctx)
	require.NoError(t, err)
	assert.Empty(t, today)
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want attendance.Duration
	}{
		{0, attendance.Duration{}},
		{59 * time.Second, attendance.Duration{}},
		{61 * time.Minute, attendance.Duration{Hours: 1, Minutes: 1}},
		{25*time.Hour + 30*time.Minute, attendance.Duration{Hours: 25, Minutes: 30}},
		{-time.Minute, attendance.Duration{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, attendance.NewDuration(tt.in), tt.in.String())
	}

	open := attendance.Session{CheckIn: start}
	assert.Equal(t, "in progress", open.Duration().String())
}

// TestOneOpenSessionProperty drives random check-in and check-out
// sequences over a few members and checks the ledger after every step.
func TestOneOpenSessionProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		ctx := context.Background()

		n := rapid.IntRange(1, 4).Draw(rt, "members")
		codes := make([]string, n)
		for i := range codes {
			m, err := f.members.RegisterMember(ctx, membership.Registration{Name: fmt.Sprintf("m%d", i)})
			if err != nil {
				rt.Fatalf("register: %v", err)
			}
			codes[i] = m.Code
		}

		inside := map[string]bool{}
		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			code := rapid.SampledFrom(codes).Draw(rt, "code")
			f.clock.Advance(time.Duration(rapid.IntRange(0, 180).Draw(rt, "minutes")) * time.Minute)

			if rapid.Bool().Draw(rt, "checkIn") {
				_, err := f.ledger.CheckIn(ctx, code)
				if inside[code] != apperr.Is(err, apperr.KindAlreadyCheckedIn) {
					rt.Fatalf("check-in %s while inside=%v returned %v", code, inside[code], err)
				}
				inside[code] = true
			} else {
				_, err := f.ledger.CheckOut(ctx, code)
				if !inside[code] != apperr.Is(err, apperr.KindNoOpenSession) {
					rt.Fatalf("check-out %s while inside=%v returned %v", code, inside[code], err)
				}
				inside[code] = false
			}

			open, err := f.ledger.ListVisits(ctx, attendance.VisitFilter{OpenOnly: true})
			if err != nil {
				rt.Fatalf("list: %v", err)
			}
			perMember := map[int64]int{}
			for _, v := range open {
				perMember[v.MemberID]++
				if perMember[v.MemberID] > 1 {
					rt.Fatalf("member %s has %d open sessions", v.MemberCode, perMember[v.MemberID])
				}
			}
		}
	})
}
