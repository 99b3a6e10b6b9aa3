package main

import (
	"io"

	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/orizon-lang/classrt/internal/cli"
	"github.com/orizon-lang/classrt/internal/hierarchy"
	classrt "github.com/orizon-lang/classrt/internal/runtime"
)

// app carries state shared by all subcommands.
type app struct {
	v          *viper.Viper
	configPath string
	config     *cli.Config
	logger     *zap.Logger // built from config unless set before Execute
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "classinfo",
		Short: "Inspect lazily initialized class descriptors",
		Long: `classinfo loads class hierarchy declarations (YAML), initializes every
class descriptor through the class registry and reports the constructor
chain (base first) and destructor chain (derived first) of each class.`,
		Version:       cli.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "configuration file (YAML)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "console", "log format: console or json")
	flags.Uint64("memory-limit", 0, "bytes of class metadata allowed (0 keeps the allocator default)")
	flags.Int("max-depth", 0, "reject parent chains deeper than this (0 = unbounded)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")

	bindings := map[string]string{
		"log_level":            "log-level",
		"log_format":           "log-format",
		"runtime.memory_limit": "memory-limit",
		"runtime.max_depth":    "max-depth",
		"runtime.metrics_addr": "metrics-addr",
	}
	for key, flag := range bindings {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newChainsCmd(a),
		newStressCmd(a),
		newWatchCmd(a),
		newVersionCmd(),
	)
	return root, a
}

func (a *app) setup(cmd *cobra.Command) error {
	config, err := cli.LoadConfig(a.v, a.configPath)
	if err != nil {
		return err
	}
	a.config = config
	if a.logger != nil {
		return nil
	}
	logger, err := cli.NewLogger(config.LogLevel, config.LogFormat)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

// runtimeFor creates a runtime from the loaded configuration.
func (a *app) runtimeFor() *classrt.Runtime {
	return classrt.New(a.config.Runtime, a.logger)
}

func loadHierarchy(path string) (*hierarchy.Hierarchy, error) {
	h, err := hierarchy.Load(path)
	if err != nil {
		return nil, cerr.WithHint(err, "see 'classinfo chains --help' for the declaration format")
	}
	return h, nil
}

func writeOut(w io.Writer, s string) error {
	_, err := io.WriteString(w, s)
	return err
}
