// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"

	"github.com/montanaflynn/stats"
)

// Aggregator recomputes centroids as the mean of their currently assigned points.
type Aggregator struct {
	points PointStore
	dim    int
}

// NewAggregator creates an Aggregator reading groups from points.
func NewAggregator(points PointStore, dim int) *Aggregator {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Aggregator{points: points, dim: dim}
}

// Recompute reads the persisted assignments for label and returns one update per centroid
// that has at least one member. Centroids without members are left out so their
// coordinates stay as they are.
func (a *Aggregator) Recompute(ctx context.Context, label string) ([]CentroidUpdate, error) {
	groups, err := a.points.AggregatePointsByCentroid(ctx, label)
	if err != nil {
		return nil, err
	}
	return MeanUpdates(groups, a.dim)
}

// MeanUpdates computes the coordinate-wise mean of every non-empty group.
func MeanUpdates(groups []Group, dim int) ([]CentroidUpdate, error) {
	updates := make([]CentroidUpdate, 0, len(groups))
	for _, g := range groups {
		if g.CentroidID == "" || len(g.Members) == 0 {
			continue
		}
		mean, err := groupMean(g, dim)
		if err != nil {
			return nil, err
		}
		updates = append(updates, CentroidUpdate{CentroidID: g.CentroidID, Coords: mean})
	}
	return updates, nil
}

func groupMean(g Group, dim int) (Vector, error) {
	for _, m := range g.Members {
		if err := CheckDimension("member of centroid", g.CentroidID, m, dim); err != nil {
			return nil, err
		}
	}
	column := make(stats.Float64Data, len(g.Members))
	mean := make(Vector, dim)
	for d := 0; d < dim; d++ {
		for i, m := range g.Members {
			column[i] = m[d]
		}
		v, err := stats.Mean(column)
		if err != nil {
			return nil, err
		}
		mean[d] = v
	}
	return mean, nil
}
