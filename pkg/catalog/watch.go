package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rhuss/chorus/pkg/debug"
	"github.com/rhuss/chorus/pkg/observability"
)

const defaultDebounce = 100 * time.Millisecond

// Watch reloads the catalog from path whenever the file changes, until ctx
// is done. The parent directory is watched so editors that replace the
// file by renaming are picked up. A file that fails to parse leaves the
// current catalog in place. onReload, when set, runs after each successful
// reload.
func (c *Catalog) Watch(ctx context.Context, path string, onReload func([]Provider)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating catalog watcher: %w", err)
	}
	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	go func() {
		defer w.Close()

		var (
			timer  *time.Timer
			reload = make(chan struct{}, 1)
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				debug.Log("catalog", "catalog file changed", "path", path, "op", ev.Op.String())
				if timer == nil {
					timer = time.AfterFunc(defaultDebounce, func() {
						select {
						case reload <- struct{}{}:
						default:
						}
					})
				} else {
					timer.Reset(defaultDebounce)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("catalog watcher error", "path", path, "error", err.Error())
			case <-reload:
				c.reload(path, onReload)
			}
		}
	}()
	return nil
}

func (c *Catalog) reload(path string, onReload func([]Provider)) {
	entries, err := Load(path)
	if err == nil {
		err = c.Replace(entries)
	}
	if err != nil {
		observability.CatalogReloadsTotal.WithLabelValues("error").Inc()
		slog.Warn("catalog reload failed, keeping previous catalog", "path", path, "error", err.Error())
		return
	}
	observability.CatalogReloadsTotal.WithLabelValues("success").Inc()
	slog.Info("catalog reloaded", "path", path, "providers", len(entries))
	if onReload != nil {
		onReload(c.Providers())
	}
}
