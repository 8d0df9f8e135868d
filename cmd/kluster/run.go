// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"io"

	"github.com/jllopis/kluster/pkg/cluster"
)

type roundOutput struct {
	Iteration           int `json:"iteration"`
	AssignmentsMatched  int `json:"assignments_matched"`
	AssignmentsModified int `json:"assignments_modified"`
	CentroidsMatched    int `json:"centroids_matched"`
	CentroidsModified   int `json:"centroids_modified"`
}

type runOutput struct {
	RunID      string           `json:"run_id"`
	Genre      string           `json:"genre"`
	State      string           `json:"state"`
	Iterations int              `json:"iterations"`
	DurationMS int64            `json:"duration_ms"`
	Rounds     []roundOutput    `json:"rounds"`
	Centroids  []centroidOutput `json:"centroids"`
}

func (a *app) runRun(ctx context.Context, args []string) error {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(a.stderr)
	limit := cmd.Int("limit", a.cfg.Cluster.IterationLimit, "Maximum number of iterations")
	positional, err := parseInterspersed(cmd, args)
	if err != nil {
		return NewInvalidArgumentError("run", err.Error())
	}

	label, err := resolveLabel(positional, a.stdin, a.stdout, a.interactive && !a.flags.JSON)
	if err != nil {
		return err
	}

	metrics, shutdown, err := a.setupTelemetry()
	if err != nil {
		return err
	}
	defer shutdown()

	store, err := openStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	var progress io.Writer = a.stdout
	if a.flags.JSON {
		progress = io.Discard
	}
	loop, err := cluster.NewLoop(store, store,
		cluster.WithDimension(a.cfg.Cluster.Dimension),
		cluster.WithCallTimeout(a.cfg.Store.CallTimeout()),
		cluster.WithProgress(progress),
		cluster.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	res, err := loop.Run(ctx, label, *limit)
	if err != nil {
		return err
	}
	if !a.flags.JSON {
		return nil
	}

	out := runOutput{
		RunID:      res.RunID,
		Genre:      res.Label,
		State:      res.State.String(),
		Iterations: res.Iterations,
		DurationMS: res.Duration.Milliseconds(),
		Rounds:     make([]roundOutput, 0, len(res.Rounds)),
	}
	for _, r := range res.Rounds {
		out.Rounds = append(out.Rounds, roundOutput{
			Iteration:           r.Iteration,
			AssignmentsMatched:  r.Assignments.Matched,
			AssignmentsModified: r.Assignments.Modified,
			CentroidsMatched:    r.Centroids.Matched,
			CentroidsModified:   r.Centroids.Modified,
		})
	}
	centroids, err := fetchCentroids(ctx, store, a.cfg.Store.CallTimeout())
	if err != nil {
		return err
	}
	out.Centroids = centroidOutputs(centroids)
	return a.printJSON(out)
}
