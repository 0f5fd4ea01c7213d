package disk

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	vfs "github.com/os-js/OS.js-sub002"
	"go.uber.org/zap"
)

// fsWatcher is the part of *fsnotify.Watcher Notify uses
type fsWatcher interface {
	Add(path string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	watcher *fsnotify.Watcher
}

func (w *fsnotifyWatcher) Add(path string) error          { return w.watcher.Add(path) }
func (w *fsnotifyWatcher) Close() error                   { return w.watcher.Close() }
func (w *fsnotifyWatcher) Events() <-chan fsnotify.Event { return w.watcher.Events }
func (w *fsnotifyWatcher) Errors() <-chan error           { return w.watcher.Errors }

// newFSWatcher is replaced in tests
var newFSWatcher = func() (fsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &fsnotifyWatcher{watcher: w}, nil
}

// Notify reports changes made to the directory tree outside the VFS. New
// directories are watched as they appear. It blocks until ctx is done.
func (a *Adapter) Notify(ctx context.Context, fn func(vfs.Change)) error {
	watcher, err := newFSWatcher()
	if err != nil {
		return vfs.NewPathError("notify", a.root, err)
	}
	defer watcher.Close()

	if err := a.watchTree(watcher, a.root); err != nil {
		return vfs.NewPathError("notify", a.root, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			change, ok := a.translate(event)
			if !ok {
				continue
			}
			if change.Method == vfs.EventMkdir {
				if err := a.watchTree(watcher, event.Name); err != nil {
					a.logger.Warn("watch new directory", zap.String("path", event.Name), zap.Error(err))
				}
			}
			fn(change)
		case err, ok := <-watcher.Errors():
			if !ok {
				return nil
			}
			a.logger.Warn("filesystem watcher error", zap.String("root", a.root), zap.Error(err))
		}
	}
}

func (a *Adapter) watchTree(w fsWatcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}

// translate maps a filesystem event onto a vfs change
func (a *Adapter) translate(event fsnotify.Event) (vfs.Change, bool) {
	rel, err := filepath.Rel(a.root, event.Name)
	if err != nil || !isPathUnderRoot(a.root, event.Name) {
		return vfs.Change{}, false
	}
	p := vfs.Build(a.scheme, "/"+filepath.ToSlash(rel))

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return vfs.Change{Method: vfs.EventUnlink, File: vfs.NewFile(p)}, true
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			return vfs.Change{Method: vfs.EventMkdir, File: vfs.NewDir(p)}, true
		}
		return vfs.Change{Method: vfs.EventWrite, File: vfs.NewFile(p)}, true
	case event.Has(fsnotify.Write):
		return vfs.Change{Method: vfs.EventWrite, File: vfs.NewFile(p)}, true
	default:
		return vfs.Change{}, false
	}
}
