// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/kluster/pkg/errors"
)

// ClusterMetrics records clustering progress. A nil *ClusterMetrics is valid and records nothing.
type ClusterMetrics struct {
	// roundCounter counts completed iterations
	roundCounter metric.Int64Counter

	// assignmentsModified counts points whose stored assignment changed
	assignmentsModified metric.Int64Counter

	// centroidsModified counts centroids whose coordinates changed
	centroidsModified metric.Int64Counter

	// runCounter counts finished runs by outcome
	runCounter metric.Int64Counter

	// runDuration tracks wall time per run in seconds
	runDuration metric.Float64Histogram
}

// NewClusterMetrics creates the instruments on the global meter provider.
func NewClusterMetrics(ctx context.Context) (*ClusterMetrics, error) {
	meter := otel.Meter("kluster/cluster")

	roundCounter, err := meter.Int64Counter(
		"kluster.rounds.total",
		metric.WithDescription("Completed clustering iterations by label"),
	)
	if err != nil {
		return nil, err
	}

	assignmentsModified, err := meter.Int64Counter(
		"kluster.assignments.modified",
		metric.WithDescription("Points whose assigned centroid changed"),
	)
	if err != nil {
		return nil, err
	}

	centroidsModified, err := meter.Int64Counter(
		"kluster.centroids.modified",
		metric.WithDescription("Centroids whose coordinates changed"),
	)
	if err != nil {
		return nil, err
	}

	runCounter, err := meter.Int64Counter(
		"kluster.runs.total",
		metric.WithDescription("Finished runs by label and outcome"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"kluster.run.duration",
		metric.WithDescription("Run wall time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ClusterMetrics{
		roundCounter:        roundCounter,
		assignmentsModified: assignmentsModified,
		centroidsModified:   centroidsModified,
		runCounter:          runCounter,
		runDuration:         runDuration,
	}, nil
}

// RecordRound records one completed iteration.
func (m *ClusterMetrics) RecordRound(ctx context.Context, label string, assignmentsModified, centroidsModified int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrRunLabel, label))
	m.roundCounter.Add(ctx, 1, attrs)
	m.assignmentsModified.Add(ctx, int64(assignmentsModified), attrs)
	m.centroidsModified.Add(ctx, int64(centroidsModified), attrs)
}

// RecordRun records a run that reached a terminal state.
func (m *ClusterMetrics) RecordRun(ctx context.Context, label, outcome string, iterations int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrRunLabel, label),
		attribute.String(AttrRunOutcome, outcome),
	)
	m.runCounter.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordRunError records a run aborted by err.
func (m *ClusterMetrics) RecordRunError(ctx context.Context, label string, err error) {
	if m == nil || err == nil {
		return
	}
	m.runCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrRunLabel, label),
		attribute.String(AttrRunOutcome, "ERROR"),
		attribute.String(AttrRunErrorCode, string(errors.CodeOf(err))),
	))
}
