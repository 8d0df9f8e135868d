package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jllopis/kluster/pkg/cluster"
	kerrors "github.com/jllopis/kluster/pkg/errors"
	"github.com/jllopis/kluster/pkg/resilience"
)

type centroidOutput struct {
	ID     string    `json:"id"`
	Coords []float64 `json:"point"`
}

func centroidOutputs(centroids []cluster.Centroid) []centroidOutput {
	out := make([]centroidOutput, 0, len(centroids))
	for _, c := range centroids {
		out = append(out, centroidOutput{ID: c.ID, Coords: c.Coords})
	}
	return out
}

func fetchCentroids(ctx context.Context, s cluster.CentroidStore, timeout time.Duration) ([]cluster.Centroid, error) {
	var centroids []cluster.Centroid
	err := resilience.WithTimeout(ctx, resilience.TimeoutConfig{Duration: timeout}, func(ctx context.Context) error {
		var err error
		centroids, err = s.FetchCentroids(ctx)
		return err
	})
	if err != nil && !kerrors.HasCode(err, kerrors.CodeDataShape) {
		return nil, kerrors.StoreUnavailable("fetch_centroids", err)
	}
	return centroids, err
}

func (a *app) runCentroids(ctx context.Context, args []string) error {
	if err := ensureNoArgs(args); err != nil {
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

	centroids, err := fetchCentroids(ctx, store, a.cfg.Store.CallTimeout())
	if err != nil {
		return err
	}
	if a.flags.JSON {
		return a.printJSON(centroidOutputs(centroids))
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPOINT")
	for _, c := range centroids {
		fmt.Fprintf(tw, "%s\t%s\n", c.ID, formatCoords(c.Coords))
	}
	return tw.Flush()
}

func formatCoords(v cluster.Vector) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', 6, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
