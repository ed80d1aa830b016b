package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mediacore/pipelinecore/internal/limits"
	"github.com/mediacore/pipelinecore/internal/logger"
)

// Holder holds the currently active configuration behind an atomic
// pointer and, when watching, applies the hot-reloadable subset (limits
// thresholds) to a live limits.Manager without a process restart. Node
// declarations, server addresses, and auth settings only take effect on
// the next process start — changing what node types exist or which port
// is bound mid-flight would invalidate in-flight sessions.
type Holder struct {
	configPath string
	current    atomic.Pointer[UnifiedConfig]
	limitsMgr  *limits.Manager
	watcher    *fsnotify.Watcher
}

// NewHolder wraps initial, optionally applying future reloads' limits
// section to limitsMgr (nil disables that wiring).
func NewHolder(configPath string, initial *UnifiedConfig, limitsMgr *limits.Manager) *Holder {
	h := &Holder{configPath: configPath, limitsMgr: limitsMgr}
	h.current.Store(initial)
	return h
}

// Get returns the currently active configuration.
func (h *Holder) Get() *UnifiedConfig {
	return h.current.Load()
}

// Watch starts watching configPath's directory for changes and reloads on
// write/create/rename, debounced to absorb editors' atomic-replace writes.
// It stops when ctx is cancelled.
func (h *Holder) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	h.watcher = watcher

	dir := filepath.Dir(h.configPath)
	file := filepath.Base(h.configPath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir %s: %w", dir, err)
	}

	go h.watchLoop(ctx, file)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, file string) {
	const debounce = 500 * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = h.watcher.Close()
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, h.reload)

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			logger.Printf("config watcher error: %v", err)
		}
	}
}

func (h *Holder) reload() {
	next, err := LoadUnifiedConfig(h.configPath)
	if err != nil {
		logger.Printf("config reload failed, keeping previous config: %v", err)
		return
	}
	if err := next.Validate(); err != nil {
		logger.Printf("config reload failed validation, keeping previous config: %v", err)
		return
	}

	h.current.Store(next)
	if h.limitsMgr != nil {
		h.limitsMgr.SetLimits(next.Limits.ToLimitsConfig())
	}
	logger.Println("config reloaded")
}

// Stop stops the watcher, if one was started.
func (h *Holder) Stop() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}
