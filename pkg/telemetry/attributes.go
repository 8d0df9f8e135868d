// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration, trace-aware logging and
// metrics for clustering runs.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for clustering spans and metrics.
const (
	// Run attributes
	AttrRunID         = "kluster.run.id"
	AttrRunLabel      = "kluster.run.label"
	AttrRunLimit      = "kluster.run.iteration_limit"
	AttrRunOutcome    = "kluster.run.outcome"
	AttrRunIterations = "kluster.run.iterations"
	AttrRunErrorCode  = "kluster.run.error_code"

	// Round attributes
	AttrRoundIteration           = "kluster.round.iteration"
	AttrRoundAssignmentsMatched  = "kluster.round.assignments.matched"
	AttrRoundAssignmentsModified = "kluster.round.assignments.modified"
	AttrRoundCentroidsMatched    = "kluster.round.centroids.matched"
	AttrRoundCentroidsModified   = "kluster.round.centroids.modified"

	// Store attributes
	AttrStoreBackend   = "kluster.store.backend"
	AttrStoreOperation = "kluster.store.operation"
)

// RunAttributes returns the attributes set when a run starts.
func RunAttributes(runID, label string, limit int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.String(AttrRunLabel, label),
	}
	if limit > 0 {
		attrs = append(attrs, attribute.Int(AttrRunLimit, limit))
	}
	return attrs
}

// OutcomeAttributes describes how a run terminated.
func OutcomeAttributes(outcome string, iterations int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRunOutcome, outcome),
		attribute.Int(AttrRunIterations, iterations),
	}
}

// IterationAttributes returns the attributes of an iteration span.
func IterationAttributes(label string, iteration int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRunLabel, label),
		attribute.Int(AttrRoundIteration, iteration),
	}
}

// RoundAttributes carries both (matched, modified) pairs of a completed round.
func RoundAttributes(assignMatched, assignModified, centroidMatched, centroidModified int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrRoundAssignmentsMatched, assignMatched),
		attribute.Int(AttrRoundAssignmentsModified, assignModified),
		attribute.Int(AttrRoundCentroidsMatched, centroidMatched),
		attribute.Int(AttrRoundCentroidsModified, centroidModified),
	}
}

// StoreAttributes identifies a store call.
func StoreAttributes(backend, operation string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrStoreBackend, backend),
	}
	if operation != "" {
		attrs = append(attrs, attribute.String(AttrStoreOperation, operation))
	}
	return attrs
}
