// Package drill runs game-day experiments that hammer the attendance engine
// with concurrent traffic and check its invariants afterwards.
package drill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Experiment is one drill scenario. SteadyState metrics must hold before and
// after the method; Observe metrics are sampled only after it.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Observe     []Metric
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
}

// Metric is a measurable property of the target.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Action drives load or cleans up after it.
type Action struct {
	Name    string
	Execute func(context.Context) error
}

// Assertion checks an observed metric after the method ran.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

// Result captures one experiment run.
type Result struct {
	Experiment       string             `json:"experiment"`
	StartTime        time.Time          `json:"start_time"`
	EndTime          time.Time          `json:"end_time"`
	Duration         time.Duration      `json:"duration"`
	SteadyStateValid bool               `json:"steady_state_valid"`
	HypothesisHeld   bool               `json:"hypothesis_held"`
	Observations     map[string]float64 `json:"observations"`
	Violations       []Violation        `json:"violations,omitempty"`
	Failures         []string           `json:"failures,omitempty"`
	Errors           []string           `json:"errors,omitempty"`
}

type Violation struct {
	Metric   string  `json:"metric"`
	Operator string  `json:"operator"`
	Expected float64 `json:"expected"`
	Actual   float64 `json:"actual"`
}

// ErrSteadyState is returned when the target is unhealthy before a run.
var ErrSteadyState = errors.New("drill: steady state invalid, experiment aborted")

// Engine runs registered experiments in order.
type Engine struct {
	tracer trace.Tracer
	logger *zap.Logger

	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		tracer: otel.Tracer("gymdesk/drill"),
		logger: logger,
	}
}

func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes one experiment: steady state, method, observation, rollback
// and validation.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "drill.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)))
	defer span.End()

	result := &Result{
		Experiment:   exp.Name,
		StartTime:    time.Now(),
		Observations: make(map[string]float64),
	}

	span.AddEvent("validating_steady_state")
	if violations := e.check(ctx, exp.SteadyState, nil); len(violations) > 0 {
		result.Violations = violations
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		return result, ErrSteadyState
	}
	result.SteadyStateValid = true

	span.AddEvent("running_method")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", action.Name, err))
			span.RecordError(err)
		}
	}

	span.AddEvent("observing")
	result.Violations = e.check(ctx, exp.SteadyState, result)
	result.Violations = append(result.Violations, e.check(ctx, exp.Observe, result)...)

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("rollback %s: %v", action.Name, err))
			span.RecordError(err)
		}
	}

	span.AddEvent("validating_assertions")
	for _, a := range exp.Validation {
		v, ok := result.Observations[a.Metric]
		if !ok || !a.Condition(v) {
			result.Failures = append(result.Failures, a.Message)
		}
	}
	result.HypothesisHeld = len(result.Violations) == 0 && len(result.Failures) == 0 && len(result.Errors) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

// RunAll runs every registered experiment and reports whether all
// hypotheses held.
func (e *Engine) RunAll(ctx context.Context) ([]Result, bool) {
	held := true
	var out []Result
	for i, exp := range e.Experiments() {
		e.logger.Info("starting experiment",
			zap.Int("index", i+1),
			zap.String("name", exp.Name),
			zap.String("hypothesis", exp.Hypothesis))

		result, err := e.Run(ctx, exp)
		if err != nil {
			e.logger.Error("experiment aborted", zap.String("name", exp.Name), zap.Error(err))
			held = false
			if result != nil {
				out = append(out, *result)
			}
			continue
		}
		e.log(result)
		held = held && result.HypothesisHeld
		out = append(out, *result)
	}
	return out, held
}

// check queries metrics and returns the threshold violations. When result is
// non-nil the observed values are recorded on it.
func (e *Engine) check(ctx context.Context, metrics []Metric, result *Result) []Violation {
	var violations []Violation
	for _, m := range metrics {
		value, err := m.Query(ctx)
		if err != nil {
			if result != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("query %s: %v", m.Name, err))
			}
			violations = append(violations, Violation{Metric: m.Name, Operator: m.Threshold.Operator, Expected: m.Threshold.Value, Actual: -1})
			continue
		}
		if result != nil {
			result.Observations[m.Name] = value
		}
		if !m.Threshold.holds(value) {
			violations = append(violations, Violation{Metric: m.Name, Operator: m.Threshold.Operator, Expected: m.Threshold.Value, Actual: value})
		}
	}
	return violations
}

func (t Threshold) holds(v float64) bool {
	switch t.Operator {
	case ">":
		return v > t.Value
	case "<":
		return v < t.Value
	case ">=":
		return v >= t.Value
	case "<=":
		return v <= t.Value
	case "==":
		return v == t.Value
	default:
		return false
	}
}

func (e *Engine) log(r *Result) {
	fields := []zap.Field{
		zap.String("name", r.Experiment),
		zap.Bool("hypothesis_held", r.HypothesisHeld),
		zap.Duration("duration", r.Duration),
		zap.Any("observations", r.Observations),
	}
	if r.HypothesisHeld {
		e.logger.Info("experiment passed", fields...)
		return
	}
	fields = append(fields,
		zap.Any("violations", r.Violations),
		zap.Strings("failures", r.Failures),
		zap.Strings("errors", r.Errors))
	e.logger.Warn("experiment failed", fields...)
}
