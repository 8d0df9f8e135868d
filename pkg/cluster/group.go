// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package cluster

// GroupByAssignment joins points to centroids on exact equality between a point's stored
// assignment and a centroid's coordinates. When several centroids share coordinates the
// first one wins. Unassigned points and points whose assignment no longer matches any
// centroid are dropped. Groups come back in centroid order and only for centroids
// with members.
func GroupByAssignment(points []Point, centroids []Centroid) []Group {
	index := make(map[string]int, len(centroids))
	for i, c := range centroids {
		key := c.Coords.Key()
		if _, ok := index[key]; !ok {
			index[key] = i
		}
	}

	members := make([][]Vector, len(centroids))
	for _, p := range points {
		if p.Cluster == nil {
			continue
		}
		i, ok := index[p.Cluster.Key()]
		if !ok {
			continue
		}
		members[i] = append(members[i], p.Features.Clone())
	}

	groups := make([]Group, 0, len(centroids))
	for i, c := range centroids {
		if len(members[i]) == 0 {
			continue
		}
		groups = append(groups, Group{
			CentroidID: c.ID,
			Coords:     c.Coords.Clone(),
			Members:    members[i],
		})
	}
	return groups
}
