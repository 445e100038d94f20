package config

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "ledgercast/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	validateTimeout = 5 * time.Second
	watchRetryMin   = 250 * time.Millisecond
	watchRetryMax   = 5 * time.Second
)

// Watch follows the config file until ctx ends and publishes every valid
// change. The parent directory is watched so editors that replace the file by
// rename are seen too. Without a file it returns at once.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	d := &debouncer{delay: reloadDebounce, fn: func() { m.reloadAndLog(ctx) }}
	defer d.stop()

	retry := watchRetryMin
	for ctx.Err() == nil {
		err := m.watchOnce(ctx, dir, name, d.trigger, func() { retry = watchRetryMin })
		if ctx.Err() != nil {
			break
		}
		m.log.Warn("config watcher restarting", logx.String("dir", dir), logx.Duration("in", retry), logx.Err(err))
		t := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
		retry = min(retry*2, watchRetryMax)
	}
	return nil
}

func (m *ConfigManager) watchOnce(ctx context.Context, dir, name string, changed, started func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	started()
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	const interesting = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watch events closed")
			}
			if ev.Op&interesting != 0 && strings.EqualFold(filepath.Base(ev.Name), name) {
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watch errors closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; one reload catches up.
				m.log.Warn("config watch overflow", logx.Err(err))
				changed()
				continue
			}
			if err != nil {
				return err
			}
		}
	}
}

func (m *ConfigManager) reloadAndLog(ctx context.Context) {
	switch err := m.reload(ctx); {
	case err == nil:
		m.log.Debug("config published", logx.String("path", m.path))
	case errors.Is(err, errUnchanged):
		m.log.Debug("config rewritten without changes", logx.String("path", m.path))
	default:
		m.log.Warn("config reload skipped", logx.String("path", m.path), logx.Err(err))
	}
}

// debouncer runs fn once delay has passed since the last trigger.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
