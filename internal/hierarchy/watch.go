package hierarchy

import (
	"context"
	"path/filepath"

	cerr "github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

// Watch reloads the declaration file at path every time it is written or
// created and passes the result to onChange. It watches the parent directory
// so editors that replace the file are followed. Watch blocks until ctx is
// done or the watcher fails.
func Watch(ctx context.Context, path string, onChange func(*Hierarchy, error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return cerr.Wrapf(err, "resolve %s", path)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return cerr.Wrap(err, "create watcher")
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return cerr.Wrapf(err, "watch %s", filepath.Dir(abs))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			onChange(Load(abs))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return cerr.Wrap(err, "watch declarations")
		}
	}
}
