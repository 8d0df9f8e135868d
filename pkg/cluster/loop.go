// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	kerrors "github.com/jllopis/kluster/pkg/errors"
	"github.com/jllopis/kluster/pkg/resilience"
	"github.com/jllopis/kluster/pkg/telemetry"
)

// State is a step of the convergence loop.
type State int

const (
	StateAssigning State = iota
	StatePersistAssignments
	StateAggregating
	StatePersistCentroids
	StateContinue
	StateConverged
	StateBudgetExhausted
)

func (s State) String() string {
	switch s {
	case StateAssigning:
		return "ASSIGNING"
	case StatePersistAssignments:
		return "PERSIST_ASSIGNMENTS"
	case StateAggregating:
		return "AGGREGATING"
	case StatePersistCentroids:
		return "PERSIST_CENTROIDS"
	case StateContinue:
		return "CONTINUE"
	case StateConverged:
		return "CONVERGED"
	case StateBudgetExhausted:
		return "BUDGET_EXHAUSTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the loop stops in s.
func (s State) Terminal() bool {
	return s == StateConverged || s == StateBudgetExhausted
}

// Round holds the persistence counts of one completed iteration.
type Round struct {
	Iteration   int
	Assignments BulkResult
	Centroids   BulkResult
}

// Result describes a finished run.
type Result struct {
	RunID      string
	Label      string
	State      State
	Iterations int
	Rounds     []Round
	Duration   time.Duration
}

// Loop drives assign -> persist -> aggregate -> persist until the centroids stop moving
// or the iteration budget runs out.
type Loop struct {
	points      PointStore
	centroids   CentroidStore
	assigner    *Assigner
	aggregator  *Aggregator
	dim         int
	callTimeout time.Duration
	progress    io.Writer
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *telemetry.ClusterMetrics
}

// Option configures a Loop.
type Option func(*Loop)

// WithDimension sets the expected coordinate count.
func WithDimension(dim int) Option {
	return func(l *Loop) {
		if dim > 0 {
			l.dim = dim
		}
	}
}

// WithCallTimeout bounds every individual store call.
func WithCallTimeout(d time.Duration) Option {
	return func(l *Loop) {
		l.callTimeout = d
	}
}

// WithProgress sets where the per-phase progress lines are written.
func WithProgress(w io.Writer) Option {
	return func(l *Loop) {
		if w != nil {
			l.progress = w
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(l *Loop) {
		if tracer != nil {
			l.tracer = tracer
		}
	}
}

// WithMetrics records round and run metrics.
func WithMetrics(m *telemetry.ClusterMetrics) Option {
	return func(l *Loop) {
		l.metrics = m
	}
}

// NewLoop creates a Loop over the given stores.
func NewLoop(points PointStore, centroids CentroidStore, opts ...Option) (*Loop, error) {
	if points == nil || centroids == nil {
		return nil, errors.New("cluster: point and centroid stores are required")
	}
	l := &Loop{
		points:    points,
		centroids: centroids,
		dim:       DefaultDimension,
		progress:  io.Discard,
		logger:    slog.Default(),
		tracer:    otel.Tracer("kluster/cluster"),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.assigner = NewAssigner(l.dim)
	l.aggregator = NewAggregator(points, l.dim)
	return l, nil
}

// Run clusters the points carrying label. Points are loaded once; centroids are read
// fresh every round. Both CONVERGED and BUDGET_EXHAUSTED are successful outcomes.
func (l *Loop) Run(ctx context.Context, label string, limit int) (*Result, error) {
	if label == "" {
		return nil, kerrors.Configuration("label is required")
	}
	if limit < 1 {
		return nil, kerrors.Configuration("iteration limit must be at least 1").WithContext("limit", limit)
	}

	started := time.Now()
	r := &run{
		loop:   l,
		label:  label,
		limit:  limit,
		result: &Result{RunID: uuid.NewString(), Label: label, State: StateAssigning},
	}
	r.log = l.logger.With(slog.String("run_id", r.result.RunID), slog.String("label", label))

	ctx, span := l.tracer.Start(ctx, "Loop.Run", trace.WithAttributes(
		telemetry.RunAttributes(r.result.RunID, label, limit)...,
	))
	defer span.End()

	r.log.InfoContext(ctx, "cluster.run.start", slog.Int("iteration_limit", limit))

	err := r.load(ctx)
	for err == nil && !r.result.State.Terminal() {
		err = r.step(ctx)
	}
	r.result.Duration = time.Since(started)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.ErrorContext(ctx, "cluster.run.error",
			slog.String("state", r.result.State.String()),
			slog.Int("iterations", r.result.Iterations),
			slog.String("error", err.Error()),
		)
		l.metrics.RecordRunError(ctx, label, err)
		return r.result, err
	}

	span.SetAttributes(telemetry.OutcomeAttributes(r.result.State.String(), r.result.Iterations)...)
	event := "cluster.run.converged"
	if r.result.State == StateBudgetExhausted {
		event = "cluster.run.budget_exhausted"
	}
	r.log.InfoContext(ctx, event,
		slog.Int("iterations", r.result.Iterations),
		slog.Duration("duration", r.result.Duration),
	)
	l.metrics.RecordRun(ctx, label, r.result.State.String(), r.result.Iterations, r.result.Duration)
	return r.result, nil
}

// call runs one store operation under the per-call deadline. Typed errors from the store
// pass through; anything else means the store could not serve the call.
func (l *Loop) call(ctx context.Context, op string, fn func(context.Context) error) error {
	err := resilience.WithTimeout(ctx, resilience.TimeoutConfig{Duration: l.callTimeout}, fn)
	if err == nil {
		return nil
	}
	var ke *kerrors.KlusterError
	if errors.As(err, &ke) && ke.Code != kerrors.CodeTimeout {
		return err
	}
	return kerrors.StoreUnavailable(op, err)
}

// run is the mutable state of one Loop.Run invocation.
type run struct {
	loop   *Loop
	label  string
	limit  int
	log    *slog.Logger
	result *Result

	points    []Point
	updates   []CentroidUpdate
	round     Round
	roundCtx  context.Context
	roundSpan trace.Span
}

func (r *run) load(ctx context.Context) error {
	l := r.loop
	err := l.call(ctx, "fetch_points", func(ctx context.Context) error {
		var err error
		r.points, err = l.points.FetchPoints(ctx, r.label)
		return err
	})
	if err != nil {
		return err
	}
	if len(r.points) == 0 {
		return kerrors.Configuration("no points found for label").WithContext("label", r.label)
	}
	for _, p := range r.points {
		if err := CheckDimension("point", p.ID, p.Features, l.dim); err != nil {
			return err
		}
	}
	r.log.DebugContext(ctx, "cluster.run.points_loaded", slog.Int("count", len(r.points)))
	return nil
}

func (r *run) step(ctx context.Context) (err error) {
	l := r.loop
	defer func() {
		if err != nil && r.roundSpan != nil {
			r.roundSpan.RecordError(err)
			r.roundSpan.SetStatus(codes.Error, err.Error())
			r.roundSpan.End()
			r.roundSpan = nil
		}
	}()

	switch r.result.State {
	case StateAssigning:
		r.round = Round{Iteration: r.result.Iterations + 1}
		r.roundCtx, r.roundSpan = l.tracer.Start(ctx, "Loop.Iteration", trace.WithAttributes(
			telemetry.IterationAttributes(r.label, r.round.Iteration)...,
		))
		fmt.Fprintf(l.progress, "********** genre = %s iteration = %d ************\n", r.label, r.round.Iteration)

		var centroids []Centroid
		if err := l.call(r.roundCtx, "fetch_centroids", func(ctx context.Context) error {
			var err error
			centroids, err = l.centroids.FetchCentroids(ctx)
			return err
		}); err != nil {
			return err
		}
		if _, err := l.assigner.Assign(r.points, centroids); err != nil {
			return err
		}
		r.result.State = StatePersistAssignments

	case StatePersistAssignments:
		var res BulkResult
		if err := l.call(r.roundCtx, "write_assignments", func(ctx context.Context) error {
			var err error
			res, err = l.points.WriteAssignments(ctx, Assignments(r.points))
			return err
		}); err != nil {
			return err
		}
		r.round.Assignments = res
		fmt.Fprintf(l.progress, "Updated %d / %d docs with new cluster.\n", res.Modified, res.Matched)
		r.result.State = StateAggregating

	case StateAggregating:
		if err := l.call(r.roundCtx, "aggregate_points_by_centroid", func(ctx context.Context) error {
			var err error
			r.updates, err = l.aggregator.Recompute(ctx, r.label)
			return err
		}); err != nil {
			return err
		}
		r.result.State = StatePersistCentroids

	case StatePersistCentroids:
		var res BulkResult
		if err := l.call(r.roundCtx, "write_centroid_updates", func(ctx context.Context) error {
			var err error
			res, err = l.centroids.WriteCentroidUpdates(ctx, r.updates)
			return err
		}); err != nil {
			return err
		}
		r.round.Centroids = res
		fmt.Fprintf(l.progress, "Updated %d / %d docs with new centroid.\n", res.Modified, res.Matched)

		r.result.Rounds = append(r.result.Rounds, r.round)
		r.result.Iterations = r.round.Iteration
		r.result.State = nextState(res.Modified, r.result.Iterations, r.limit)

		r.roundSpan.SetAttributes(telemetry.RoundAttributes(
			r.round.Assignments.Matched, r.round.Assignments.Modified,
			r.round.Centroids.Matched, r.round.Centroids.Modified,
		)...)
		r.roundSpan.End()
		r.roundSpan = nil
		l.metrics.RecordRound(ctx, r.label, r.round.Assignments.Modified, r.round.Centroids.Modified)
		r.log.DebugContext(ctx, "cluster.round.complete",
			slog.Int("iteration", r.round.Iteration),
			slog.Int("assignments_matched", r.round.Assignments.Matched),
			slog.Int("assignments_modified", r.round.Assignments.Modified),
			slog.Int("centroids_matched", r.round.Centroids.Matched),
			slog.Int("centroids_modified", r.round.Centroids.Modified),
			slog.String("next", r.result.State.String()),
		)

	case StateContinue:
		r.result.State = StateAssigning

	default:
		return kerrors.New(kerrors.CodeInternal, "unexpected loop state "+r.result.State.String(), nil)
	}
	return nil
}

// nextState applies the convergence rule: a round that modified no centroid converges,
// even when it is also the last round of the budget.
func nextState(centroidsModified, iterations, limit int) State {
	switch {
	case centroidsModified == 0:
		return StateConverged
	case iterations >= limit:
		return StateBudgetExhausted
	default:
		return StateContinue
	}
}
