package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// syncBuffer is written by the watch goroutine and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(declarations), 0o600))

	core, logs := observer.New(zapcore.DebugLevel)
	root, a := newRootCmd()
	a.logger = zap.New(core)
	var out syncBuffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"watch", path})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "C (depth 4, epoch 1)")
	}, 5*time.Second, 20*time.Millisecond)

	// The watcher starts after the first report; rewrite until it sees D.
	updated := declarations + "  - name: D\n    parent: C\n    construct: true\n"
	require.Eventually(t, func() bool {
		if !strings.Contains(out.String(), "D (depth 5") {
			_ = os.WriteFile(path, []byte(updated), 0o600)
			return false
		}
		return true
	}, 5*time.Second, 50*time.Millisecond)

	assert.Contains(t, out.String(), "D (depth 5, epoch 2)", "every reload starts a new epoch")
	assert.Contains(t, out.String(), "  construct: A.ctor -> C.ctor -> D.ctor\n")
	require.NotEmpty(t, logs.FilterMessage("declarations reloaded").All())

	// Let late events of the valid rewrite settle before counting.
	time.Sleep(200 * time.Millisecond)
	stopped := logs.FilterMessage("runtime stopped").Len()
	warnings := logs.FilterMessage("declarations not reloaded").Len()
	reports := out.String()

	require.NoError(t, os.WriteFile(path, []byte("version: 9.0.0\nclasses: []\n"), 0o600))
	require.Eventually(t, func() bool {
		return logs.FilterMessage("declarations not reloaded").Len() > warnings
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, stopped, logs.FilterMessage("runtime stopped").Len(),
		"an invalid file must not finalize the current classes")
	assert.Equal(t, reports, out.String())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
	assert.Equal(t, stopped+1, logs.FilterMessage("runtime stopped").Len(), "exiting finalizes the classes")
}
