package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orizon-lang/classrt/internal/hierarchy"
)

func newWatchCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "watch <declarations.yaml>",
		Short: "Reprint class chains whenever the declaration file changes",
		Long: `The watch command prints the chains of the declared classes, then watches
the declaration file. On every change all class metadata is finalized and
the new declarations are initialized in a fresh epoch. Invalid files are
logged and the previous classes stay in place.

Stop with Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, err := loadHierarchy(args[0])
			if err != nil {
				return err
			}

			rt := a.runtimeFor()
			out := cmd.OutOrStdout()
			reload := func(h *hierarchy.Hierarchy) error {
				if err := rt.Shutdown(ctx); err != nil {
					return err
				}
				if err := rt.Start(ctx, h.Classes...); err != nil {
					return err
				}
				return writeReports(out, output, buildReports(h.Classes))
			}
			if err := reload(h); err != nil {
				return err
			}

			err = hierarchy.Watch(ctx, args[0], func(next *hierarchy.Hierarchy, err error) {
				if err != nil {
					a.logger.Warn("declarations not reloaded", zap.String("path", args[0]), zap.Error(err))
					return
				}
				if err := reload(next); err != nil {
					a.logger.Error("reload failed", zap.Error(err))
					return
				}
				a.logger.Info("declarations reloaded",
					zap.Int("classes", len(next.Classes)),
					zap.Uint32("epoch", rt.Classes().Epoch()))
			})

			shutdownErr := rt.Shutdown(context.Background())
			if err != nil && ctx.Err() == nil {
				return err
			}
			return shutdownErr
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, yaml or json")
	return cmd
}
