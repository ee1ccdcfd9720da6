package drill

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gymdesk/internal/attendance"
	"gymdesk/internal/clock"
	"gymdesk/internal/membership"
	"gymdesk/internal/store/memory"
)

func serviceTarget() ServiceTarget {
	st := memory.New()
	clk := clock.NewManual(time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))
	return ServiceTarget{
		Members:    membership.NewService(st.Members(), clk, time.UTC, zap.NewNop(), nil),
		Attendance: attendance.NewService(st.Attendance(), clk, time.UTC, zap.NewNop(), nil),
	}
}

func TestDefaultDrillsHoldAgainstServices(t *testing.T) {
	e := NewEngine(zap.NewNop())
	e.RegisterDefaults(serviceTarget(), Settings{Concurrency: 20, Members: 4, Cycles: 3})

	results, held := e.RunAll(context.Background())
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.HypothesisHeld, "%s: violations=%v failures=%v errors=%v", r.Experiment, r.Violations, r.Failures, r.Errors)
	}
	assert.True(t, held)
	assert.Equal(t, 1.0, results[0].Observations["accepted_check_ins"])
	assert.Equal(t, 20.0, results[1].Observations["distinct_codes"])
	assert.Equal(t, 12.0, results[2].Observations["completed_visits"])
	assert.Len(t, e.Results(), 3)
}

// leakyTarget accepts every check-in, the race the ledger must prevent.
type leakyTarget struct {
	mu   sync.Mutex
	next int
	open map[string]int
}

func (l *leakyTarget) RegisterMember(context.Context, string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	return fmt.Sprintf("XF%03d", l.next), nil
}

func (l *leakyTarget) CheckIn(_ context.Context, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open[code]++
	return nil
}

func (l *leakyTarget) CheckOut(_ context.Context, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open[code] = 0
	return nil
}

func (l *leakyTarget) OpenSessions(context.Context) (map[string]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.open))
	for k, v := range l.open {
		out[k] = v
	}
	return out, nil
}

func TestConcurrentCheckInDetectsDoubleBooking(t *testing.T) {
	target := &leakyTarget{open: map[string]int{}}
	e := NewEngine(zap.NewNop())

	result, err := e.Run(context.Background(), ConcurrentCheckIn(target, 5))
	require.NoError(t, err)
	assert.False(t, result.HypothesisHeld)
	assert.Equal(t, 5.0, result.Observations["accepted_check_ins"])
	assert.Equal(t, 1.0, result.Observations["members_with_multiple_open_sessions"])
	assert.Contains(t, result.Failures, "exactly one check-in must be accepted")
}

func TestSteadyStateAbortsRun(t *testing.T) {
	target := &leakyTarget{open: map[string]int{"XF009": 2}}
	e := NewEngine(zap.NewNop())

	result, err := e.Run(context.Background(), CheckInChurn(target, 1, 1))
	assert.ErrorIs(t, err, ErrSteadyState)
	assert.False(t, result.SteadyStateValid)
	assert.Empty(t, e.Results())
}

func TestThreshold(t *testing.T) {
	assert.True(t, Threshold{Operator: "==", Value: 0}.holds(0))
	assert.True(t, Threshold{Operator: ">=", Value: 1}.holds(1))
	assert.False(t, Threshold{Operator: "<", Value: 1}.holds(1))
	assert.False(t, Threshold{Operator: "~", Value: 1}.holds(1))
}
