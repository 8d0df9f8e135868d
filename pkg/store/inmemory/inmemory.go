// Package inmemory provides an in-process point and centroid store.
package inmemory

import (
	"context"
	"sync"

	"github.com/jllopis/kluster/pkg/cluster"
)

// Store keeps points and centroids in memory. Centroids keep insertion order.
// It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	points    map[string]*cluster.Point
	order     []string
	centroids []cluster.Centroid
}

// New creates an empty store.
func New() *Store {
	return &Store{points: make(map[string]*cluster.Point)}
}

// Seed inserts or replaces points and centroids.
func (s *Store) Seed(_ context.Context, points []cluster.Point, centroids []cluster.Centroid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		cp := clonePoint(p)
		if _, ok := s.points[p.ID]; !ok {
			s.order = append(s.order, p.ID)
		}
		s.points[p.ID] = &cp
	}
	for _, c := range centroids {
		replaced := false
		for i := range s.centroids {
			if s.centroids[i].ID == c.ID {
				s.centroids[i].Coords = c.Coords.Clone()
				replaced = true
				break
			}
		}
		if !replaced {
			s.centroids = append(s.centroids, cluster.Centroid{ID: c.ID, Coords: c.Coords.Clone()})
		}
	}
	return nil
}

// FetchPoints returns copies of the points carrying label, in insertion order.
func (s *Store) FetchPoints(ctx context.Context, label string) ([]cluster.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pointsWithLabel(label), nil
}

// WriteAssignments sets the cluster of every known point. Unknown ids are not matched.
func (s *Store) WriteAssignments(ctx context.Context, updates []cluster.Assignment) (cluster.BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return cluster.BulkResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var res cluster.BulkResult
	for _, u := range updates {
		p, ok := s.points[u.PointID]
		if !ok {
			continue
		}
		res.Matched++
		if p.Cluster != nil && p.Cluster.Equal(u.Coords) {
			continue
		}
		p.Cluster = u.Coords.Clone()
		res.Modified++
	}
	return res, nil
}

// AggregatePointsByCentroid groups the label's points under the centroid their stored
// assignment matches.
func (s *Store) AggregatePointsByCentroid(ctx context.Context, label string) ([]cluster.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cluster.GroupByAssignment(s.pointsWithLabel(label), s.centroids), nil
}

// FetchCentroids returns copies of all centroids in insertion order.
func (s *Store) FetchCentroids(ctx context.Context) ([]cluster.Centroid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]cluster.Centroid, len(s.centroids))
	for i, c := range s.centroids {
		out[i] = cluster.Centroid{ID: c.ID, Coords: c.Coords.Clone()}
	}
	return out, nil
}

// WriteCentroidUpdates replaces centroid coordinates. Unknown ids are not matched.
func (s *Store) WriteCentroidUpdates(ctx context.Context, updates []cluster.CentroidUpdate) (cluster.BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return cluster.BulkResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var res cluster.BulkResult
	for _, u := range updates {
		for i := range s.centroids {
			if s.centroids[i].ID != u.CentroidID {
				continue
			}
			res.Matched++
			if !s.centroids[i].Coords.Equal(u.Coords) {
				s.centroids[i].Coords = u.Coords.Clone()
				res.Modified++
			}
			break
		}
	}
	return res, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) pointsWithLabel(label string) []cluster.Point {
	var out []cluster.Point
	for _, id := range s.order {
		p := s.points[id]
		if p.HasLabel(label) {
			out = append(out, clonePoint(*p))
		}
	}
	return out
}

func clonePoint(p cluster.Point) cluster.Point {
	return cluster.Point{
		ID:       p.ID,
		Features: p.Features.Clone(),
		Labels:   append([]string(nil), p.Labels...),
		Cluster:  p.Cluster.Clone(),
	}
}
