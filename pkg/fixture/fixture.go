// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package fixture reads datasets of points and centroids from YAML and seeds them into a store.
package fixture

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/kluster/pkg/cluster"
	kerrors "github.com/jllopis/kluster/pkg/errors"
)

// Dataset is the on-disk layout of a fixture file.
type Dataset struct {
	Centroids []CentroidRecord `yaml:"centroids"`
	Points    []PointRecord    `yaml:"points"`
}

type CentroidRecord struct {
	ID    string    `yaml:"id"`
	Point []float64 `yaml:"point"`
}

type PointRecord struct {
	ID       string    `yaml:"id"`
	Genres   []string  `yaml:"genres"`
	Features []float64 `yaml:"kmeansNorm"`
	Cluster  []float64 `yaml:"cluster,omitempty"`
}

// Load reads a dataset from path.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, kerrors.New(kerrors.CodeConfiguration, "failed to open fixture", err).WithContext("path", path)
	}
	defer f.Close()
	ds, err := Decode(f)
	if err != nil {
		return nil, kerrors.New(kerrors.CodeConfiguration, "failed to read fixture", err).WithContext("path", path)
	}
	return ds, nil
}

// Decode parses a dataset. Unknown fields are rejected.
func Decode(r io.Reader) (*Dataset, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var ds Dataset
	if err := dec.Decode(&ds); err != nil && err != io.EOF {
		return nil, err
	}
	return &ds, nil
}

// Validate checks ids and vector sizes against dim.
func (ds *Dataset) Validate(dim int) error {
	seen := make(map[string]bool, len(ds.Centroids))
	for i, c := range ds.Centroids {
		if c.ID == "" {
			return kerrors.New(kerrors.CodeInvalidInput, fmt.Sprintf("centroid #%d has no id", i), nil)
		}
		if seen[c.ID] {
			return kerrors.New(kerrors.CodeInvalidInput, "duplicate centroid id", nil).WithContext("id", c.ID)
		}
		seen[c.ID] = true
		if err := cluster.CheckDimension("centroid", c.ID, c.Point, dim); err != nil {
			return err
		}
	}
	seen = make(map[string]bool, len(ds.Points))
	for i, p := range ds.Points {
		if p.ID == "" {
			return kerrors.New(kerrors.CodeInvalidInput, fmt.Sprintf("point #%d has no id", i), nil)
		}
		if seen[p.ID] {
			return kerrors.New(kerrors.CodeInvalidInput, "duplicate point id", nil).WithContext("id", p.ID)
		}
		seen[p.ID] = true
		if err := cluster.CheckDimension("point", p.ID, p.Features, dim); err != nil {
			return err
		}
		if p.Cluster != nil {
			if err := cluster.CheckDimension("assignment of point", p.ID, p.Cluster, dim); err != nil {
				return err
			}
		}
	}
	return nil
}

// ClusterPoints converts the point records.
func (ds *Dataset) ClusterPoints() []cluster.Point {
	out := make([]cluster.Point, 0, len(ds.Points))
	for _, p := range ds.Points {
		out = append(out, cluster.Point{
			ID:       p.ID,
			Features: cluster.Vector(p.Features).Clone(),
			Labels:   append([]string(nil), p.Genres...),
			Cluster:  cluster.Vector(p.Cluster).Clone(),
		})
	}
	return out
}

// ClusterCentroids converts the centroid records, keeping file order.
func (ds *Dataset) ClusterCentroids() []cluster.Centroid {
	out := make([]cluster.Centroid, 0, len(ds.Centroids))
	for _, c := range ds.Centroids {
		out = append(out, cluster.Centroid{ID: c.ID, Coords: cluster.Vector(c.Point).Clone()})
	}
	return out
}

// Apply validates ds and seeds it into s.
func Apply(ctx context.Context, s cluster.Seeder, ds *Dataset, dim int) error {
	if err := ds.Validate(dim); err != nil {
		return err
	}
	return s.Seed(ctx, ds.ClusterPoints(), ds.ClusterCentroids())
}
