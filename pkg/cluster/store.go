// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import "context"

// PointStore gives read/write access to points and their assignments, scoped by label.
type PointStore interface {
	// FetchPoints returns every point carrying label, with its current assignment if any.
	FetchPoints(ctx context.Context, label string) ([]Point, error)
	// WriteAssignments stores each assignment on its point as one unordered batch.
	WriteAssignments(ctx context.Context, updates []Assignment) (BulkResult, error)
	// AggregatePointsByCentroid joins the label's points to centroids through the stored
	// assignment coordinates and returns the feature vectors grouped per centroid.
	AggregatePointsByCentroid(ctx context.Context, label string) ([]Group, error)
}

// CentroidStore gives read/write access to the centroid set.
type CentroidStore interface {
	// FetchCentroids returns all centroids in a stable order.
	FetchCentroids(ctx context.Context) ([]Centroid, error)
	// WriteCentroidUpdates stores new coordinates as one unordered batch.
	WriteCentroidUpdates(ctx context.Context, updates []CentroidUpdate) (BulkResult, error)
}

// Store is a backend serving both points and centroids.
type Store interface {
	PointStore
	CentroidStore
	Close() error
}

// Seeder loads points and centroids into a store. Existing records with the same id are replaced.
type Seeder interface {
	Seed(ctx context.Context, points []Point, centroids []Centroid) error
}
