package drill

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"gymdesk/internal/apperr"
)

// Settings size the default experiments.
type Settings struct {
	Concurrency int
	Members     int
	Cycles      int
}

func (s Settings) withDefaults() Settings {
	if s.Concurrency <= 0 {
		s.Concurrency = 50
	}
	if s.Members <= 0 {
		s.Members = 10
	}
	if s.Cycles <= 0 {
		s.Cycles = 5
	}
	return s
}

// RegisterDefaults registers the standard attendance drills against target.
func (e *Engine) RegisterDefaults(target Target, s Settings) {
	s = s.withDefaults()
	e.Register(ConcurrentCheckIn(target, s.Concurrency))
	e.Register(ConcurrentRegistration(target, s.Concurrency))
	e.Register(CheckInChurn(target, s.Members, s.Cycles))
}

// openSessionViolations counts members holding more than one open session.
func openSessionViolations(target Target) Metric {
	return Metric{
		Name: "members_with_multiple_open_sessions",
		Query: func(ctx context.Context) (float64, error) {
			open, err := target.OpenSessions(ctx)
			if err != nil {
				return 0, err
			}
			n := 0
			for _, c := range open {
				if c > 1 {
					n++
				}
			}
			return float64(n), nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func counter(name string, v *atomic.Int64, t Threshold) Metric {
	return Metric{
		Name:      name,
		Query:     func(context.Context) (float64, error) { return float64(v.Load()), nil },
		Threshold: t,
	}
}

// ConcurrentCheckIn fires n simultaneous check-ins for one member.
func ConcurrentCheckIn(target Target, n int) Experiment {
	var (
		code       string
		accepted   atomic.Int64
		rejected   atomic.Int64
		unexpected atomic.Int64
	)
	return Experiment{
		Name:        "concurrent-check-in",
		Hypothesis:  fmt.Sprintf("Exactly one of %d simultaneous check-ins for the same member succeeds", n),
		SteadyState: []Metric{openSessionViolations(target)},
		Observe: []Metric{
			counter("accepted_check_ins", &accepted, Threshold{Operator: "==", Value: 1}),
			counter("already_checked_in_rejections", &rejected, Threshold{Operator: "==", Value: float64(n - 1)}),
			counter("unexpected_errors", &unexpected, Threshold{Operator: "==", Value: 0}),
		},
		Method: []Action{
			{
				Name: "register-member",
				Execute: func(ctx context.Context) error {
					c, err := target.RegisterMember(ctx, "drill concurrent check-in")
					code = c
					return err
				},
			},
			{
				Name: "check-in-storm",
				Execute: func(ctx context.Context) error {
					if code == "" {
						return fmt.Errorf("no member to check in")
					}
					var g errgroup.Group
					for i := 0; i < n; i++ {
						g.Go(func() error {
							err := target.CheckIn(ctx, code)
							switch {
							case err == nil:
								accepted.Add(1)
							case apperr.Is(err, apperr.KindAlreadyCheckedIn):
								rejected.Add(1)
							default:
								unexpected.Add(1)
							}
							return nil
						})
					}
					return g.Wait()
				},
			},
		},
		Rollback: []Action{
			{
				Name: "check-out",
				Execute: func(ctx context.Context) error {
					if code == "" || accepted.Load() == 0 {
						return nil
					}
					return target.CheckOut(ctx, code)
				},
			},
		},
		Validation: []Assertion{
			{Metric: "accepted_check_ins", Condition: func(v float64) bool { return v == 1 }, Message: "exactly one check-in must be accepted"},
			{Metric: "unexpected_errors", Condition: func(v float64) bool { return v == 0 }, Message: "losers must see already_checked_in"},
		},
	}
}

// ConcurrentRegistration registers n members at once and checks that every
// one of them received a distinct code.
func ConcurrentRegistration(target Target, n int) Experiment {
	var (
		mu       sync.Mutex
		codes    = map[string]int{}
		failures atomic.Int64
	)
	distinct := func(context.Context) (float64, error) {
		mu.Lock()
		defer mu.Unlock()
		return float64(len(codes)), nil
	}
	duplicates := func(context.Context) (float64, error) {
		mu.Lock()
		defer mu.Unlock()
		d := 0
		for _, c := range codes {
			d += c - 1
		}
		return float64(d), nil
	}
	return Experiment{
		Name:       "concurrent-registration",
		Hypothesis: fmt.Sprintf("%d simultaneous registrations yield %d distinct member codes", n, n),
		Observe: []Metric{
			{Name: "distinct_codes", Query: distinct, Threshold: Threshold{Operator: "==", Value: float64(n)}},
			{Name: "duplicate_codes", Query: duplicates, Threshold: Threshold{Operator: "==", Value: 0}},
			counter("failed_registrations", &failures, Threshold{Operator: "==", Value: 0}),
		},
		Method: []Action{
			{
				Name: "registration-storm",
				Execute: func(ctx context.Context) error {
					var g errgroup.Group
					for i := 0; i < n; i++ {
						g.Go(func() error {
							code, err := registerWithRetry(ctx, target, fmt.Sprintf("drill member %d", i))
							if err != nil {
								failures.Add(1)
								return nil
							}
							mu.Lock()
							codes[code]++
							mu.Unlock()
							return nil
						})
					}
					return g.Wait()
				},
			},
		},
		Validation: []Assertion{
			{Metric: "duplicate_codes", Condition: func(v float64) bool { return v == 0 }, Message: "no member code may be issued twice"},
		},
	}
}

// registerWithRetry resubmits registrations rejected as retryable.
func registerWithRetry(ctx context.Context, target Target, name string) (string, error) {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		var code string
		code, err = target.RegisterMember(ctx, name)
		if err == nil || !apperr.Retryable(err) {
			return code, err
		}
	}
	return "", err
}

// CheckInChurn has several members check in and out repeatedly, with a
// duplicate check-in and check-out mixed into every cycle.
func CheckInChurn(target Target, members, cycles int) Experiment {
	var (
		codes      []string
		unexpected atomic.Int64
		completed  atomic.Int64
	)
	return Experiment{
		Name:        "check-in-churn",
		Hypothesis:  "Interleaved check-ins and check-outs never leave a member with two open sessions",
		SteadyState: []Metric{openSessionViolations(target)},
		Observe: []Metric{
			counter("completed_visits", &completed, Threshold{Operator: "==", Value: float64(members * cycles)}),
			counter("unexpected_errors", &unexpected, Threshold{Operator: "==", Value: 0}),
			{
				Name: "open_sessions_for_drill_members",
				Query: func(ctx context.Context) (float64, error) {
					open, err := target.OpenSessions(ctx)
					if err != nil {
						return 0, err
					}
					n := 0
					for _, c := range codes {
						n += open[c]
					}
					return float64(n), nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			{
				Name: "register-members",
				Execute: func(ctx context.Context) error {
					for i := 0; i < members; i++ {
						code, err := registerWithRetry(ctx, target, fmt.Sprintf("drill churn %d", i))
						if err != nil {
							return err
						}
						codes = append(codes, code)
					}
					return nil
				},
			},
			{
				Name: "churn",
				Execute: func(ctx context.Context) error {
					g, ctx := errgroup.WithContext(ctx)
					for _, code := range codes {
						g.Go(func() error {
							for c := 0; c < cycles; c++ {
								if err := target.CheckIn(ctx, code); err != nil {
									unexpected.Add(1)
									continue
								}
								if err := target.CheckIn(ctx, code); !apperr.Is(err, apperr.KindAlreadyCheckedIn) {
									unexpected.Add(1)
								}
								if err := target.CheckOut(ctx, code); err != nil {
									unexpected.Add(1)
									continue
								}
								if err := target.CheckOut(ctx, code); !apperr.Is(err, apperr.KindNoOpenSession) {
									unexpected.Add(1)
								}
								completed.Add(1)
							}
							return ctx.Err()
						})
					}
					return g.Wait()
				},
			},
		},
		Validation: []Assertion{
			{Metric: "unexpected_errors", Condition: func(v float64) bool { return v == 0 }, Message: "every duplicate must be rejected with its own kind"},
			{Metric: "open_sessions_for_drill_members", Condition: func(v float64) bool { return v == 0 }, Message: "all drill sessions end closed"},
		},
	}
}
