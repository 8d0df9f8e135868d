// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlite stores points and centroids in SQLite.
//
// Coordinate vectors are stored as canonical JSON text. Assignments reference centroids
// by that text, so a point joins the centroid whose stored coordinates are textually
// identical to its stored assignment.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/jllopis/kluster/pkg/cluster"
	kerrors "github.com/jllopis/kluster/pkg/errors"
	"github.com/jllopis/kluster/pkg/telemetry"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func sanitizeTableName(table string) (string, error) {
	if table == "" {
		return "", fmt.Errorf("table name is required")
	}
	if !tableNamePattern.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Config configures the SQLite store.
type Config struct {
	// DB is the database connection. Required.
	DB *sql.DB
	// PointsTable holds points. Default: "movies". Labels live in "<PointsTable>_labels".
	PointsTable string
	// CentroidsTable holds centroids. Default: "centroids".
	CentroidsTable string
}

// Store implements cluster.Store on SQLite.
type Store struct {
	db        *sql.DB
	points    string
	labels    string
	centroids string
	tracer    trace.Tracer
}

// Open opens the database at path and ensures the schema.
func Open(ctx context.Context, path string, pointsTable, centroidsTable string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	s, err := New(ctx, Config{DB: db, PointsTable: pointsTable, CentroidsTable: centroidsTable})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New creates a store over an open connection and ensures the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DB == nil {
		return nil, errors.New("db is nil")
	}
	if cfg.PointsTable == "" {
		cfg.PointsTable = "movies"
	}
	if cfg.CentroidsTable == "" {
		cfg.CentroidsTable = "centroids"
	}
	points, err := sanitizeTableName(cfg.PointsTable)
	if err != nil {
		return nil, err
	}
	centroids, err := sanitizeTableName(cfg.CentroidsTable)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:        cfg.DB,
		points:    points,
		labels:    points + "_labels",
		centroids: centroids,
		tracer:    otel.Tracer("kluster/store/sqlite"),
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			features TEXT NOT NULL,
			cluster TEXT
		);
		CREATE TABLE IF NOT EXISTS %[2]s (
			point_id TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			PRIMARY KEY (point_id, label)
		);
		CREATE INDEX IF NOT EXISTS idx_%[2]s_label ON %[2]s(label);
		CREATE TABLE IF NOT EXISTS %[3]s (
			id TEXT PRIMARY KEY,
			point TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[3]s_point ON %[3]s(point);
	`, s.points, s.labels, s.centroids))
	return err
}

func (s *Store) span(ctx context.Context, op string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "sqlite."+op, trace.WithAttributes(telemetry.StoreAttributes("sqlite", op)...))
}

// Seed inserts or replaces points, their labels, and centroids in one transaction.
func (s *Store) Seed(ctx context.Context, points []cluster.Point, centroids []cluster.Centroid) error {
	ctx, span := s.span(ctx, "seed")
	defer span.End()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, p := range points {
			features, err := encodeVector(p.Features)
			if err != nil {
				return err
			}
			var assigned any
			if p.Cluster != nil {
				text, err := encodeVector(p.Cluster)
				if err != nil {
					return err
				}
				assigned = text
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`INSERT INTO %s (id, features, cluster) VALUES (?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET features = excluded.features, cluster = excluded.cluster`, s.points),
				p.ID, features, assigned); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE point_id = ?`, s.labels), p.ID); err != nil {
				return err
			}
			for _, label := range p.Labels {
				if _, err := tx.ExecContext(ctx, fmt.Sprintf(
					`INSERT OR IGNORE INTO %s (point_id, label) VALUES (?, ?)`, s.labels), p.ID, label); err != nil {
					return err
				}
			}
		}
		for _, c := range centroids {
			coords, err := encodeVector(c.Coords)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`INSERT INTO %s (id, point) VALUES (?, ?)
				 ON CONFLICT(id) DO UPDATE SET point = excluded.point`, s.centroids),
				c.ID, coords); err != nil {
				return err
			}
		}
		return nil
	})
}

// FetchPoints returns the points carrying label ordered by insertion, each with its full
// label set.
func (s *Store) FetchPoints(ctx context.Context, label string) ([]cluster.Point, error) {
	ctx, span := s.span(ctx, "fetch_points")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT p.id, p.features, p.cluster,
			(SELECT json_group_array(label) FROM
				(SELECT a.label FROM %[2]s a WHERE a.point_id = p.id ORDER BY a.rowid))
		FROM %[1]s p
		JOIN %[2]s l ON l.point_id = p.id
		WHERE l.label = ?
		ORDER BY p.rowid ASC
	`, s.points, s.labels), label)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []cluster.Point
	for rows.Next() {
		var (
			p        cluster.Point
			features string
			assigned sql.NullString
			labels   string
		)
		if err := rows.Scan(&p.ID, &features, &assigned, &labels); err != nil {
			return nil, err
		}
		if p.Features, err = decodeVector("point", p.ID, features); err != nil {
			return nil, err
		}
		if assigned.Valid {
			if p.Cluster, err = decodeVector("point assignment", p.ID, assigned.String); err != nil {
				return nil, err
			}
		}
		if err := json.Unmarshal([]byte(labels), &p.Labels); err != nil {
			return nil, fmt.Errorf("failed to decode labels of point %s: %w", p.ID, err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

// WriteAssignments stores the assignments in one transaction. Matched counts existing
// points; modified counts those whose stored assignment text changed.
func (s *Store) WriteAssignments(ctx context.Context, updates []cluster.Assignment) (cluster.BulkResult, error) {
	ctx, span := s.span(ctx, "write_assignments")
	defer span.End()

	items := make([]bulkItem, len(updates))
	for i, u := range updates {
		items[i] = bulkItem{id: u.PointID, coords: u.Coords}
	}
	return s.bulkSet(ctx, s.points, "cluster", items)
}

// WriteCentroidUpdates stores new centroid coordinates in one transaction.
func (s *Store) WriteCentroidUpdates(ctx context.Context, updates []cluster.CentroidUpdate) (cluster.BulkResult, error) {
	ctx, span := s.span(ctx, "write_centroid_updates")
	defer span.End()

	items := make([]bulkItem, len(updates))
	for i, u := range updates {
		items[i] = bulkItem{id: u.CentroidID, coords: u.Coords}
	}
	return s.bulkSet(ctx, s.centroids, "point", items)
}

type bulkItem struct {
	id     string
	coords cluster.Vector
}

func (s *Store) bulkSet(ctx context.Context, table, column string, items []bulkItem) (cluster.BulkResult, error) {
	var res cluster.BulkResult
	if len(items) == 0 {
		return res, nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		match, err := tx.PrepareContext(ctx, fmt.Sprintf(`SELECT COUNT(1) FROM %s WHERE id = ?`, table))
		if err != nil {
			return err
		}
		defer match.Close()
		update, err := tx.PrepareContext(ctx, fmt.Sprintf(
			`UPDATE %[1]s SET %[2]s = ? WHERE id = ? AND %[2]s IS NOT ?`, table, column))
		if err != nil {
			return err
		}
		defer update.Close()

		for _, item := range items {
			text, err := encodeVector(item.coords)
			if err != nil {
				return err
			}
			var n int
			if err := match.QueryRowContext(ctx, item.id).Scan(&n); err != nil {
				return err
			}
			res.Matched += n
			r, err := update.ExecContext(ctx, text, item.id, text)
			if err != nil {
				return err
			}
			changed, err := r.RowsAffected()
			if err != nil {
				return err
			}
			res.Modified += int(changed)
		}
		return nil
	})
	if err != nil {
		return cluster.BulkResult{}, err
	}
	return res, nil
}

// AggregatePointsByCentroid groups the label's feature vectors by the centroid whose
// stored coordinates equal the point's stored assignment. With duplicate centroid
// coordinates the earliest inserted centroid wins.
func (s *Store) AggregatePointsByCentroid(ctx context.Context, label string) ([]cluster.Group, error) {
	ctx, span := s.span(ctx, "aggregate_points_by_centroid")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.id, c.point, p.id, p.features
		FROM %[1]s p
		JOIN %[2]s l ON l.point_id = p.id
		JOIN %[3]s c ON c.rowid = (
			SELECT c2.rowid FROM %[3]s c2 WHERE c2.point = p.cluster ORDER BY c2.rowid LIMIT 1
		)
		WHERE l.label = ? AND p.cluster IS NOT NULL
		ORDER BY c.rowid ASC, p.rowid ASC
	`, s.points, s.labels, s.centroids), label)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []cluster.Group
	for rows.Next() {
		var centroidID, coords, pointID, features string
		if err := rows.Scan(&centroidID, &coords, &pointID, &features); err != nil {
			return nil, err
		}
		member, err := decodeVector("point", pointID, features)
		if err != nil {
			return nil, err
		}
		if n := len(groups); n == 0 || groups[n-1].CentroidID != centroidID {
			center, err := decodeVector("centroid", centroidID, coords)
			if err != nil {
				return nil, err
			}
			groups = append(groups, cluster.Group{CentroidID: centroidID, Coords: center})
		}
		last := &groups[len(groups)-1]
		last.Members = append(last.Members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groups, nil
}

// FetchCentroids returns all centroids in insertion order.
func (s *Store) FetchCentroids(ctx context.Context) ([]cluster.Centroid, error) {
	ctx, span := s.span(ctx, "fetch_centroids")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, point FROM %s ORDER BY rowid ASC`, s.centroids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var centroids []cluster.Centroid
	for rows.Next() {
		var c cluster.Centroid
		var coords string
		if err := rows.Scan(&c.ID, &coords); err != nil {
			return nil, err
		}
		if c.Coords, err = decodeVector("centroid", c.ID, coords); err != nil {
			return nil, err
		}
		centroids = append(centroids, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return centroids, nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func encodeVector(v cluster.Vector) (string, error) {
	if v == nil {
		v = cluster.Vector{}
	}
	data, err := json.Marshal([]float64(v))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeVector(kind, id, text string) (cluster.Vector, error) {
	var v []float64
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, kerrors.New(kerrors.CodeDataShape, fmt.Sprintf("%s %q has malformed coordinates", kind, id), err).
			WithContext("kind", kind).
			WithContext("id", id)
	}
	return cluster.Vector(v), nil
}
