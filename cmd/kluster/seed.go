package main

import (
	"context"
	"fmt"
	"log/slog"

	kerrors "github.com/jllopis/kluster/pkg/errors"
	"github.com/jllopis/kluster/pkg/fixture"
)

func (a *app) runSeed(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return NewInvalidArgumentError("seed", "expected exactly one fixture file")
	}
	ds, err := fixture.Load(args[0])
	if err != nil {
		return err
	}
	if err := ds.Validate(a.cfg.Cluster.Dimension); err != nil {
		return err
	}

	_, shutdown, err := a.setupTelemetry()
	if err != nil {
		return err
	}
	defer shutdown()

	store, err := openStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	if err := fixture.Apply(ctx, store, ds, a.cfg.Cluster.Dimension); err != nil {
		if kerrors.CodeOf(err) == kerrors.CodeInternal {
			return kerrors.StoreUnavailable("seed", err)
		}
		return err
	}
	slog.InfoContext(ctx, "fixture.seeded",
		slog.String("file", args[0]),
		slog.Int("points", len(ds.Points)),
		slog.Int("centroids", len(ds.Centroids)),
	)
	if a.flags.JSON {
		return a.printJSON(map[string]int{"points": len(ds.Points), "centroids": len(ds.Centroids)})
	}
	fmt.Fprintf(a.stdout, "Seeded %d points and %d centroids into %s.\n", len(ds.Points), len(ds.Centroids), a.cfg.Store.Backend)
	return nil
}
