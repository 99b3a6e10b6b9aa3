package main

import (
	"context"
	"fmt"
	"slices"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/classrt/internal/class"
	"github.com/orizon-lang/classrt/internal/hierarchy"
	classrt "github.com/orizon-lang/classrt/internal/runtime"
)

type stressOptions struct {
	workers int
	rounds  int
}

func newStressCmd(a *app) *cobra.Command {
	opts := stressOptions{}

	cmd := &cobra.Command{
		Use:   "stress <declarations.yaml>",
		Short: "Initialize declared classes from many goroutines, finalizing between rounds",
		Long: `The stress command starts a number of workers that all initialize every
declared class at the same time, each in a different order. After each round
the computed chains are checked against the first round and all class
metadata is finalized, so the next round runs in a new epoch.

Example:
  classinfo stress classes.yaml --workers 64 --rounds 10
  classinfo stress classes.yaml --metrics-addr 127.0.0.1:9102`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := loadHierarchy(args[0])
			if err != nil {
				return err
			}
			if opts.workers < 1 || opts.rounds < 1 {
				return cerr.WithHint(cerr.New("workers and rounds must be positive"),
					"pass --workers and --rounds values of at least 1")
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rt := a.runtimeFor()
			start := time.Now()
			if err := runStress(ctx, rt, h, opts, a.logger); err != nil {
				return err
			}

			stats := rt.Classes().Stats()
			mem := rt.Allocator().Stats()
			return writeOut(cmd.OutOrStdout(), fmt.Sprintf(
				"rounds: %d\nworkers: %d\nclasses: %d\nepoch: %d\ncomputations: %d\nlock acquisitions: %d\nreservations: %d (peak %d live)\nelapsed: %s\n",
				opts.rounds, opts.workers, len(h.Classes), stats.Epoch,
				stats.Computations, stats.LockAcquisitions,
				mem.AllocationCount, mem.PeakAllocations,
				time.Since(start).Round(time.Millisecond)))
		},
	}

	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 16, "concurrent initializing goroutines")
	cmd.Flags().IntVarP(&opts.rounds, "rounds", "r", 5, "initialize/finalize rounds")
	return cmd
}

type chainPair struct {
	construct []string
	destruct  []string
}

func runStress(ctx context.Context, rt *classrt.Runtime, h *hierarchy.Hierarchy, opts stressOptions, logger *zap.Logger) error {
	var want map[*class.Class]chainPair

	for round := 0; round < opts.rounds; round++ {
		if err := rt.Start(ctx); err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		for w := 0; w < opts.workers; w++ {
			order := rotate(h.Classes, w)
			g.Go(func() error {
				for _, c := range order {
					if err := gctx.Err(); err != nil {
						return err
					}
					if err := rt.Classes().TryEnsureInitialized(c); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			_ = rt.Shutdown(ctx)
			return cerr.Wrapf(err, "round %d", round)
		}

		got := make(map[*class.Class]chainPair, len(h.Classes))
		for _, c := range h.Classes {
			got[c] = chainPair{hierarchy.ConstructOrder(c), hierarchy.DestructOrder(c)}
		}
		if want == nil {
			want = got
		} else {
			for _, c := range h.Classes {
				if !slices.Equal(want[c].construct, got[c].construct) ||
					!slices.Equal(want[c].destruct, got[c].destruct) {
					_ = rt.Shutdown(ctx)
					return cerr.AssertionFailedf("round %d: chains of class %q changed", round, c.Name)
				}
			}
		}

		logger.Debug("stress round complete",
			zap.Int("round", round),
			zap.Uint32("epoch", rt.Classes().Epoch()))

		if err := rt.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

// rotate returns classes starting at offset n, wrapping around.
func rotate(classes []*class.Class, n int) []*class.Class {
	if len(classes) == 0 {
		return nil
	}
	n %= len(classes)
	out := make([]*class.Class, 0, len(classes))
	out = append(out, classes[n:]...)
	return append(out, classes[:n]...)
}
