package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent signals that a watched config file changed on disk.
type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher emits ReloadEvents when config.yaml changes. Consumers re-load the
// config and apply the fields that are safe to change live (daily budget,
// background model, log level).
type Watcher struct {
	homeDir string
	logger  *slog.Logger
	events  chan ReloadEvent
}

func NewWatcher(homeDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		homeDir: homeDir,
		logger:  logger,
		events:  make(chan ReloadEvent, 16),
	}
}

func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory, not the file: editors replace config.yaml via
	// rename, which drops a file-level watch.
	_ = fsw.Add(w.homeDir)
	target := filepath.Join(w.homeDir, "config.yaml")

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Name != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case w.events <- ReloadEvent{Path: ev.Name, Op: ev.Op}:
				default:
				}
				w.logger.Info("config file changed", "path", ev.Name, "op", ev.Op.String())
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
