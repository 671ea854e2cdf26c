package crawler

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// watcher turns filesystem events below a directory into debounced change
// notifications.
type watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	clock    clock.Clock
	logger   *logrus.Entry
	changeCh chan struct{}
}

func newWatcher(dir string, debounce time.Duration, clk clock.Clock, logger *logrus.Entry) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, xerrors.Errorf("watch %s: %w", dir, err)
	}
	w := &watcher{
		fsw:      fsw,
		debounce: debounce,
		clock:    clk,
		logger:   logger,
		changeCh: make(chan struct{}, 1),
	}
	if err := w.addRecursive(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *watcher) changes() <-chan struct{} { return w.changeCh }

func (w *watcher) close() error { return w.fsw.Close() }

// addRecursive watches dir and every directory below it. fsnotify watches
// are not recursive.
func (w *watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return xerrors.Errorf("watch %s: %w", dir, err)
			}
			w.logger.WithFields(logrus.Fields{"path": p, "err": err}).Warn("unable to watch directory")
			return filepath.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			if p == dir {
				return xerrors.Errorf("watch %s: %w", dir, err)
			}
			w.logger.WithFields(logrus.Fields{"path": p, "err": err}).Warn("unable to watch directory")
		}
		return nil
	})
}

func (w *watcher) run(ctx context.Context) {
	var debounceCh <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(ev.Name)
				}
			}
			// Restart the quiet period on every event.
			debounceCh = w.clock.After(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithField("err", err).Warn("filesystem watch error")
		case <-debounceCh:
			debounceCh = nil
			select {
			case w.changeCh <- struct{}{}:
			default:
			}
		}
	}
}
