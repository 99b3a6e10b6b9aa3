// Package runtime ties the class registry to the lifecycle of an embedding
// object system: Start makes class metadata available (and optionally
// exports metrics), Shutdown releases all of it once every instance is gone.
// Start and Shutdown may be repeated; each cycle runs in a new epoch.
package runtime

import (
	"context"
	"sync"

	cerr "github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/orizon-lang/classrt/internal/allocator"
	"github.com/orizon-lang/classrt/internal/class"
)

// Config configures a Runtime.
type Config struct {
	MemoryLimit     uint64 `mapstructure:"memory_limit"` // bytes; 0 keeps the allocator default
	GrowthIncrement int    `mapstructure:"growth_increment"`
	MaxDepth        int    `mapstructure:"max_depth"`
	MetricsAddr     string `mapstructure:"metrics_addr"` // empty disables the metrics endpoint
	Debug           bool   `mapstructure:"debug"`        // record stack traces of reservations
}

// Runtime owns the class registry of one object system.
type Runtime struct {
	mu          sync.Mutex
	config      Config
	logger      *zap.Logger
	alloc       *allocator.SystemAllocator
	classes     *class.Registry
	metrics     *prometheus.Registry
	metricsAddr string
	stopMetrics func(context.Context) error
	running     bool
}

// New creates a runtime. Options are applied to the class registry after the
// ones derived from config.
func New(config Config, logger *zap.Logger, options ...class.Option) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}

	allocOpts := []allocator.Option{allocator.WithDebug(config.Debug)}
	if config.MemoryLimit > 0 {
		allocOpts = append(allocOpts, allocator.WithMemoryLimit(uintptr(config.MemoryLimit)))
	}
	alloc := allocator.NewSystemAllocator(allocOpts...)

	registryOpts := []class.Option{
		class.WithAllocator(alloc),
		class.WithLogger(logger),
		class.WithGrowthIncrement(config.GrowthIncrement),
		class.WithMaxDepth(config.MaxDepth),
	}
	classes := class.NewRegistry(append(registryOpts, options...)...)

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(class.NewCollector(classes), collectors.NewGoCollector())

	return &Runtime{
		config:  config,
		logger:  logger.Named("runtime"),
		alloc:   alloc,
		classes: classes,
		metrics: metrics,
	}
}

// Classes returns the class registry.
func (rt *Runtime) Classes() *class.Registry { return rt.classes }

// Allocator returns the allocator class metadata is accounted against.
func (rt *Runtime) Allocator() *allocator.SystemAllocator { return rt.alloc }

// Gatherer returns the metrics gathered by the runtime.
func (rt *Runtime) Gatherer() prometheus.Gatherer { return rt.metrics }

// MetricsAddr returns the bound metrics address, or "" when not serving.
func (rt *Runtime) MetricsAddr() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.metricsAddr
}

// Start brings the runtime up and initializes classes eagerly. Classes not
// listed are initialized lazily on first use. When any class fails, all class
// metadata is finalized before Start returns, so none of the listed classes
// stays current.
func (rt *Runtime) Start(ctx context.Context, classes ...*class.Class) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.running {
		return cerr.New("runtime already started")
	}

	if rt.config.MetricsAddr != "" {
		addr, stop, err := StartMetricsServer(rt.config.MetricsAddr, rt.metrics, rt.debugRoutes)
		if err != nil {
			return cerr.Wrapf(err, "serve metrics on %s", rt.config.MetricsAddr)
		}
		rt.metricsAddr, rt.stopMetrics = addr, stop
		rt.logger.Info("serving metrics", zap.String("addr", addr))
	}

	if err := rt.classes.EnsureAll(ctx, classes...); err != nil {
		// Release whatever the classes that did succeed built.
		_ = rt.classes.FinalizeAll()
		_ = rt.stopServer(ctx)
		return err
	}

	rt.running = true
	rt.logger.Info("runtime started",
		zap.Uint32("epoch", rt.classes.Epoch()),
		zap.Int("classes", len(classes)))
	return nil
}

// Shutdown releases all class metadata. Every instance must have been
// destroyed and no class may be initializing concurrently. Reservations still
// outstanding afterwards are reported as leaks.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !rt.running {
		return nil
	}
	rt.running = false

	if err := rt.classes.FinalizeAll(); err != nil {
		return cerr.Wrap(err, "finalize classes")
	}
	if leaks := rt.alloc.CheckLeaks(); len(leaks) > 0 {
		rt.logger.Warn("class metadata leaked", zap.String("report", allocator.FormatLeaks(leaks)))
	}

	err := rt.stopServer(ctx)
	rt.logger.Info("runtime stopped", zap.Uint32("epoch", rt.classes.Epoch()))
	return err
}

func (rt *Runtime) stopServer(ctx context.Context) error {
	if rt.stopMetrics == nil {
		return nil
	}
	err := rt.stopMetrics(ctx)
	rt.stopMetrics, rt.metricsAddr = nil, ""
	return err
}
