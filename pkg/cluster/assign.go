// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"math"

	kerrors "github.com/jllopis/kluster/pkg/errors"
)

// EuclideanDistance returns the L2 distance between two vectors of equal length.
func EuclideanDistance(a, b Vector) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Assigner maps each point to its nearest centroid.
type Assigner struct {
	dim int
}

// NewAssigner creates an Assigner for vectors of dim coordinates.
func NewAssigner(dim int) *Assigner {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Assigner{dim: dim}
}

// Assign sets Cluster on every point to the coordinates of the nearest centroid.
// Ties go to the earliest centroid in the given order. Points are updated in place and
// also returned; nothing is persisted.
func (a *Assigner) Assign(points []Point, centroids []Centroid) ([]Point, error) {
	if len(centroids) == 0 {
		return nil, kerrors.Configuration("no centroids to assign points to")
	}
	for _, c := range centroids {
		if err := CheckDimension("centroid", c.ID, c.Coords, a.dim); err != nil {
			return nil, err
		}
	}
	for i := range points {
		if err := CheckDimension("point", points[i].ID, points[i].Features, a.dim); err != nil {
			return nil, err
		}
		best := 0
		bestDist := math.Inf(1)
		for j, c := range centroids {
			if d := EuclideanDistance(points[i].Features, c.Coords); d < bestDist {
				bestDist = d
				best = j
			}
		}
		points[i].Cluster = centroids[best].Coords.Clone()
	}
	return points, nil
}

// Assignments converts assigned points into the write batch for a PointStore.
func Assignments(points []Point) []Assignment {
	out := make([]Assignment, 0, len(points))
	for _, p := range points {
		out = append(out, Assignment{PointID: p.ID, Coords: p.Cluster})
	}
	return out
}
