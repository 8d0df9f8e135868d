// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jllopis/kluster/pkg/cluster"
	"github.com/jllopis/kluster/pkg/config"
	kerrors "github.com/jllopis/kluster/pkg/errors"
	"github.com/jllopis/kluster/pkg/fixture"
	"github.com/jllopis/kluster/pkg/store/inmemory"
	"github.com/jllopis/kluster/pkg/store/qdrant"
	"github.com/jllopis/kluster/pkg/store/sqlite"
	"github.com/jllopis/kluster/pkg/telemetry"
)

// backend is a store that can also be seeded.
type backend interface {
	cluster.Store
	cluster.Seeder
}

// openStore connects to the configured backend. The caller closes it.
func openStore(ctx context.Context, cfg *config.Config) (backend, error) {
	sc := cfg.Store
	var (
		s   backend
		err error
	)
	switch sc.Backend {
	case config.BackendSQLite:
		s, err = sqlite.Open(ctx, sc.SQLitePath, sc.PointsCollection, sc.CentroidsCollection)
	case config.BackendQdrant:
		s, err = qdrant.New(ctx, qdrant.Config{
			Addr:                sc.QdrantAddr,
			PointsCollection:    sc.PointsCollection,
			CentroidsCollection: sc.CentroidsCollection,
			Dimension:           cfg.Cluster.Dimension,
		})
	case config.BackendMemory:
		mem := inmemory.New()
		if sc.Fixture != "" {
			ds, ferr := fixture.Load(sc.Fixture)
			if ferr != nil {
				return nil, ferr
			}
			if ferr := fixture.Apply(ctx, mem, ds, cfg.Cluster.Dimension); ferr != nil {
				return nil, ferr
			}
		}
		s = mem
	default:
		return nil, kerrors.Configuration("unknown store backend").WithContext("backend", sc.Backend)
	}
	if err != nil {
		return nil, kerrors.StoreUnavailable("open", err).WithContext("backend", sc.Backend)
	}
	slog.Debug("store.opened", slog.String("backend", sc.Backend))
	return s, nil
}

func closeStore(s backend) {
	if err := s.Close(); err != nil {
		slog.Warn("store.close.error", slog.String("error", err.Error()))
	}
}

// setupTelemetry configures logging to stderr and, when enabled, the OpenTelemetry
// providers. The returned function flushes exporters.
func (a *app) setupTelemetry() (*telemetry.ClusterMetrics, func(), error) {
	telemetry.ConfigureSlog(a.stderr, a.cfg.Log.Level, a.cfg.Log.Format)

	exporter := "none"
	if a.cfg.Telemetry.Enabled {
		exporter = a.cfg.Telemetry.Exporter
	}
	shutdown, err := telemetry.InitWithConfig("kluster", version, telemetry.Config{
		Exporter:       exporter,
		OTLPEndpoint:   a.cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   a.cfg.Telemetry.OTLPInsecure,
		MetricInterval: time.Duration(a.cfg.Telemetry.MetricIntervalSeconds) * time.Second,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init telemetry: %w", err)
	}
	metrics, err := telemetry.NewClusterMetrics(context.Background())
	if err != nil {
		_ = shutdown(context.Background())
		return nil, nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	return metrics, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Warn("telemetry.shutdown.error", slog.String("error", err.Error()))
		}
	}, nil
}
