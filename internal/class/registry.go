package class

import (
	"context"
	"math"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/classrt/internal/allocator"
	rterrors "github.com/orizon-lang/classrt/internal/errors"
)

// Registry initializes class descriptors and owns the call chains it builds.
// Chains stay valid until FinalizeAll, which releases all of them at once and
// advances the epoch so every descriptor is recomputed on its next use.
type Registry struct {
	mu      sync.Mutex
	epoch   atomic.Uint32
	blocks  []*chainBlock // len(blocks) is the storage capacity
	count   int
	storage allocator.Handle

	alloc  allocator.Allocator
	logger *zap.Logger
	fatal  func(error)
	config *Config

	computations     atomic.Uint64
	lockAcquisitions atomic.Uint64
	failures         atomic.Uint64
	finalizations    atomic.Uint64
}

// Config holds registry settings.
type Config struct {
	Allocator       allocator.Allocator
	Logger          *zap.Logger
	FatalHandler    func(error)
	GrowthIncrement int    // storage slots added per expansion
	InitialEpoch    uint32 // 0 is replaced by 1
	MaxDepth        int    // 0 walks parent chains without bound
}

type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		GrowthIncrement: 10,
		InitialEpoch:    1,
	}
}

// WithAllocator accounts chain blocks and storage against a.
func WithAllocator(a allocator.Allocator) Option {
	return func(c *Config) { c.Allocator = a }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithFatalHandler replaces process termination on unrecoverable
// initialization errors. The handler must not return normally if callers
// rely on EnsureInitialized leaving the class current.
func WithFatalHandler(fn func(error)) Option {
	return func(c *Config) { c.FatalHandler = fn }
}

func WithGrowthIncrement(n int) Option {
	return func(c *Config) { c.GrowthIncrement = n }
}

func WithInitialEpoch(epoch uint32) Option {
	return func(c *Config) { c.InitialEpoch = epoch }
}

// WithMaxDepth bounds the parent walk; a longer chain is reported as misuse.
func WithMaxDepth(n int) Option {
	return func(c *Config) { c.MaxDepth = n }
}

// NewRegistry creates a registry with empty storage.
func NewRegistry(options ...Option) *Registry {
	config := defaultConfig()
	for _, opt := range options {
		opt(config)
	}
	if config.GrowthIncrement <= 0 {
		config.GrowthIncrement = 10
	}
	if config.InitialEpoch == 0 {
		config.InitialEpoch = 1
	}
	if config.Allocator == nil {
		config.Allocator = allocator.NewSystemAllocator()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	r := &Registry{
		alloc:  config.Allocator,
		logger: config.Logger.Named("class"),
		fatal:  config.FatalHandler,
		config: config,
	}
	if r.fatal == nil {
		r.fatal = terminate(r.logger)
	}
	r.epoch.Store(config.InitialEpoch)

	return r
}

// terminate reports err and exits the process. A logger that drops fatal
// entries is replaced by a stderr logger so the report is never lost.
func terminate(logger *zap.Logger) func(error) {
	return func(err error) {
		if !logger.Core().Enabled(zapcore.FatalLevel) {
			logger = zap.New(zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.Lock(os.Stderr),
				zapcore.FatalLevel,
			))
		}
		logger.Fatal("class metadata unavailable", zap.Error(err))
	}
}

// Epoch returns the current epoch.
func (r *Registry) Epoch() uint32 { return r.epoch.Load() }

// IsCurrent reports whether c is initialized for the current epoch.
func (r *Registry) IsCurrent(c *Class) bool {
	return c.preinitialized || c.stamp.Load() == r.epoch.Load()
}

// EnsureInitialized makes sure the call chains of c are computed for the
// current epoch. It must be called before any instance of c is constructed.
// Allocation failure is unrecoverable and handed to the fatal handler.
func (r *Registry) EnsureInitialized(c *Class) {
	if c != nil && r.IsCurrent(c) {
		return
	}
	if err := r.TryEnsureInitialized(c); err != nil {
		r.fatal(err)
	}
}

// TryEnsureInitialized is EnsureInitialized returning the unrecoverable
// error instead of terminating. On error c is left stale with no chains
// attached.
func (r *Registry) TryEnsureInitialized(c *Class) error {
	if c == nil {
		return rterrors.NilDescriptor("EnsureInitialized")
	}
	if r.IsCurrent(c) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lockAcquisitions.Add(1)

	// Another goroutine may have finished while we waited for the lock.
	if r.IsCurrent(c) {
		return nil
	}

	if err := r.initialize(c); err != nil {
		r.failures.Add(1)
		return cerr.Wrapf(err, "initialize class %q", c.Name)
	}
	return nil
}

// initialize computes the chains of c. r.mu must be held.
func (r *Registry) initialize(c *Class) error {
	epoch := r.epoch.Load()

	depth, nctors, ndtors := 0, 0, 0
	for p := c; p != nil; p = p.Parent {
		if r.config.MaxDepth > 0 && depth >= r.config.MaxDepth {
			return rterrors.DepthExceeded(c.Name, r.config.MaxDepth)
		}
		if p.Construct != nil {
			nctors++
		}
		if p.Destruct != nil {
			ndtors++
		}
		depth++
	}

	// Reserve everything before touching c so a failure exposes nothing.
	if err := r.ensureCapacity(); err != nil {
		return err
	}
	h, err := r.alloc.Reserve("call chains of "+c.Name, uintptr(nctors+ndtors+2)*slotSize)
	if err != nil {
		return err
	}

	block := &chainBlock{
		owner:     c,
		handle:    h,
		construct: make([]Constructor, nctors+1),
		destruct:  make([]Destructor, 0, ndtors+1),
	}

	// One walk from c to the root. Constructors fill the construct chain from
	// its end so it reads root first; the slot at nctors stays nil.
	next := nctors
	p := c
	for i := 0; i < depth; i++ {
		if p.Construct != nil {
			next--
			block.construct[next] = p.Construct
		}
		if p.Destruct != nil {
			block.destruct = append(block.destruct, p.Destruct)
		}
		p = p.Parent
	}
	block.destruct = append(block.destruct, nil)

	c.depth = depth
	c.chains = block
	c.stamp.Store(epoch)
	r.save(block)
	r.computations.Add(1)

	r.logger.Debug("class initialized",
		zap.String("class", c.Name),
		zap.Int("depth", depth),
		zap.Int("constructors", nctors),
		zap.Int("destructors", ndtors),
		zap.Uint32("epoch", epoch))

	return nil
}

// EnsureAll initializes classes concurrently and returns the first error.
func (r *Registry) EnsureAll(ctx context.Context, classes ...*Class) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for _, c := range classes {
		c := c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return r.TryEnsureInitialized(c)
		})
	}

	return g.Wait()
}

// FinalizeAll releases every chain the registry built, empties its storage
// and advances the epoch, wrapping from MaxUint32 to 1. All previously
// initialized classes become stale and are recomputed on next use.
//
// FinalizeAll must not run concurrently with initialization of the classes
// it releases; callers quiesce the object system first. It always returns
// nil.
func (r *Registry) FinalizeAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	epoch := r.epoch.Load()
	if epoch == math.MaxUint32 {
		epoch = 1
	} else {
		epoch++
	}
	r.epoch.Store(epoch)

	released := r.count
	for i := 0; i < r.count; i++ {
		b := r.blocks[i]
		if b == nil {
			continue
		}
		r.alloc.Release(b.handle)
		if b.owner.chains == b {
			b.owner.chains = nil
			b.owner.depth = 0
		}
	}
	r.alloc.Release(r.storage)
	r.blocks = nil
	r.count = 0
	r.storage = 0
	r.finalizations.Add(1)

	r.logger.Info("class metadata finalized",
		zap.Int("released", released),
		zap.Uint32("epoch", epoch))

	return nil
}

// Len returns the number of chain blocks currently owned.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the current storage capacity.
func (r *Registry) Cap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blocks)
}

// Allocator returns the allocator chain blocks are accounted against.
func (r *Registry) Allocator() allocator.Allocator { return r.alloc }

// Stats is a point-in-time view of registry activity.
type Stats struct {
	Epoch            uint32
	Classes          int
	Capacity         int
	Computations     uint64
	LockAcquisitions uint64
	Failures         uint64
	Finalizations    uint64
}

// Stats returns registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	classes, capacity := r.count, len(r.blocks)
	r.mu.Unlock()

	return Stats{
		Epoch:            r.epoch.Load(),
		Classes:          classes,
		Capacity:         capacity,
		Computations:     r.computations.Load(),
		LockAcquisitions: r.lockAcquisitions.Load(),
		Failures:         r.failures.Load(),
		Finalizations:    r.finalizations.Load(),
	}
}
