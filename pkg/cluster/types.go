// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package cluster implements iterative k-means refinement over points held in an
// external store: nearest-centroid assignment, group means and the convergence loop.
package cluster

import (
	"fmt"
	"strconv"
	"strings"

	kerrors "github.com/jllopis/kluster/pkg/errors"
)

// DefaultDimension is the coordinate count of points and centroids.
const DefaultDimension = 2

// DefaultIterationLimit bounds a run when the caller does not pick a limit.
const DefaultIterationLimit = 100

// Vector is an ordered sequence of coordinates.
type Vector []float64

// Equal reports exact element-wise equality. A nil vector only equals another empty vector.
func (v Vector) Equal(o Vector) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if v[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that does not share storage with v.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Key renders v as a lossless string usable as a map key.
func (v Vector) Key() string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (v Vector) String() string {
	return "(" + v.Key() + ")"
}

// Point is a clustered record. Cluster holds the coordinates of the centroid it was last
// assigned to and is nil until the first assignment.
type Point struct {
	ID       string
	Features Vector
	Labels   []string
	Cluster  Vector
}

// HasLabel reports whether label is one of the point's labels.
func (p Point) HasLabel(label string) bool {
	for _, l := range p.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Centroid is a cluster center.
type Centroid struct {
	ID     string
	Coords Vector
}

// Assignment records the centroid coordinates a point is closest to.
type Assignment struct {
	PointID string
	Coords  Vector
}

// CentroidUpdate pairs a centroid with its recomputed coordinates.
type CentroidUpdate struct {
	CentroidID string
	Coords     Vector
}

// Group is the set of point feature vectors currently assigned to one centroid.
type Group struct {
	CentroidID string
	Coords     Vector
	Members    []Vector
}

// BulkResult reports how many records a batched write matched and how many it changed.
type BulkResult struct {
	Matched  int
	Modified int
}

func (r BulkResult) String() string {
	return fmt.Sprintf("%d / %d", r.Modified, r.Matched)
}

// CheckDimension returns a DATA_SHAPE_ERROR when v does not have dim coordinates.
func CheckDimension(kind, id string, v Vector, dim int) error {
	if len(v) != dim {
		return kerrors.DataShape(kind, id, dim, len(v))
	}
	return nil
}
