package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/orizon-lang/classrt/internal/class"
	rterrors "github.com/orizon-lang/classrt/internal/errors"
)

func testClasses() (base, derived *class.Class) {
	base = &class.Class{Name: "Base", Construct: func(unsafe.Pointer) {}}
	derived = &class.Class{Name: "Derived", Parent: base, Destruct: func(unsafe.Pointer) {}}
	return base, derived
}

func TestRuntimeLifecycle(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	rt := New(Config{MemoryLimit: 1 << 20}, zap.New(core))
	base, derived := testClasses()
	ctx := context.Background()

	for cycle := 0; cycle < 3; cycle++ {
		require.NoError(t, rt.Start(ctx, base, derived))
		assert.True(t, rt.Classes().IsCurrent(base))
		assert.True(t, rt.Classes().IsCurrent(derived))
		assert.Equal(t, 2, rt.Classes().Len())

		require.NoError(t, rt.Shutdown(ctx))
		assert.False(t, rt.Classes().IsCurrent(derived), "shutdown must leave classes stale")
		assert.Zero(t, rt.Allocator().Stats().BytesInUse)
	}

	assert.Equal(t, uint32(4), rt.Classes().Epoch())
	assert.Len(t, logs.FilterMessage("runtime started").All(), 3)
	assert.Empty(t, logs.FilterMessage("class metadata leaked").All())
}

func TestRuntimeStartTwice(t *testing.T) {
	rt := New(Config{}, nil)
	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))
	assert.Error(t, rt.Start(ctx))
	require.NoError(t, rt.Shutdown(ctx))
	assert.NoError(t, rt.Shutdown(ctx), "second shutdown is a no-op")
}

func TestRuntimeStartFailure(t *testing.T) {
	rt := New(Config{MemoryLimit: 8}, nil)
	_, derived := testClasses()

	err := rt.Start(context.Background(), derived)
	require.Error(t, err)
	assert.True(t, rterrors.IsOutOfMemory(err))
	assert.Empty(t, rt.MetricsAddr())
}

func TestRuntimeStartPartialFailure(t *testing.T) {
	// Storage (80 bytes) plus one of the two chain blocks fits, never both.
	rt := New(Config{MemoryLimit: 112}, nil)
	ok := &class.Class{Name: "Ok"}
	wide := &class.Class{
		Name:      "Wide",
		Parent:    ok,
		Construct: func(unsafe.Pointer) {},
		Destruct:  func(unsafe.Pointer) {},
	}
	ctx := context.Background()

	require.NoError(t, rt.Start(ctx, ok))
	require.NoError(t, rt.Shutdown(ctx))
	require.Equal(t, uint32(2), rt.Classes().Epoch())

	err := rt.Start(ctx, ok, wide)
	require.Error(t, err)
	assert.True(t, rterrors.IsOutOfMemory(err))

	assert.False(t, rt.Classes().IsCurrent(ok), "no listed class may stay current after a failed start")
	assert.False(t, rt.Classes().IsCurrent(wide))
	assert.Nil(t, ok.ConstructChain())
	assert.Zero(t, rt.Classes().Len())
	assert.Empty(t, rt.Allocator().CheckLeaks())
	assert.Equal(t, uint32(3), rt.Classes().Epoch())

	require.NoError(t, rt.Shutdown(ctx))
	assert.Empty(t, rt.Allocator().CheckLeaks())

	require.NoError(t, rt.Start(ctx, ok), "the runtime can start again after a failed start")
	assert.True(t, rt.Classes().IsCurrent(ok))
	require.NoError(t, rt.Shutdown(ctx))
}

func TestRuntimeMetrics(t *testing.T) {
	rt := New(Config{MetricsAddr: "127.0.0.1:0", MemoryLimit: 1 << 20}, nil)
	base, derived := testClasses()
	ctx := context.Background()

	require.NoError(t, rt.Start(ctx, base, derived))
	addr := rt.MetricsAddr()
	require.NotEmpty(t, addr)

	body := scrape(t, addr)
	assert.Contains(t, body, "classrt_registered_classes 2")
	assert.Contains(t, body, "classrt_epoch 1")
	assert.Contains(t, body, "go_goroutines")

	resp, err := http.Get("http://" + addr + "/debug/classes")
	require.NoError(t, err)
	var snap DebugSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.True(t, snap.Running)
	assert.Equal(t, 2, snap.Registry.Classes)

	require.NoError(t, rt.Shutdown(ctx))
	assert.Empty(t, rt.MetricsAddr())
}

func TestRuntimeRegistryOptions(t *testing.T) {
	var fatal error
	rt := New(Config{MaxDepth: 1}, nil, class.WithFatalHandler(func(err error) { fatal = err }))
	_, derived := testClasses()

	rt.Classes().EnsureInitialized(derived)
	assert.True(t, rterrors.IsMisuse(fatal), "depth bound comes from config")
}
