package config

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce absorbs the burst of events editors produce on save.
const DefaultDebounce = 250 * time.Millisecond

// Watch reports changes to the file at path on the returned channel. It
// watches the parent directory so that atomic replace-by-rename is seen.
// Bursts of events within debounce collapse into one notification, and a
// pending notification is never duplicated. The channel is closed when ctx
// is done or the watcher fails.
func Watch(ctx context.Context, path string, debounce time.Duration, log zerolog.Logger) (<-chan struct{}, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	dir := filepath.Dir(path)
	file := filepath.Base(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	var (
		mu     sync.Mutex
		timer  *time.Timer
		closed bool
	)
	changes := make(chan struct{}, 1)
	notify := func() {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case changes <- struct{}{}:
		default:
			// one pending reload is enough
		}
	}

	go func() {
		defer func() {
			mu.Lock()
			closed = true
			if timer != nil {
				timer.Stop()
			}
			close(changes)
			mu.Unlock()
			_ = w.Close()
		}()

		log.Debug().Str("dir", dir).Str("file", file).Msg("config watcher started")
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					log.Warn().Msg("config watcher closed")
					return
				}
				if !sameName(filepath.Base(ev.Name), file) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				log.Debug().Str("path", path).Str("op", ev.Op.String()).Msg("config change detected; scheduling reload")
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, notify)
				mu.Unlock()
			case err, ok := <-w.Errors:
				if !ok {
					log.Warn().Msg("config watcher closed")
					return
				}
				if err == nil {
					continue
				}
				// Overflow means events may have been missed; reload once.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					notify()
					continue
				}
				log.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
	return changes, nil
}

// sameName compares base names, ignoring case only where the filesystem
// usually does.
func sameName(a, b string) bool {
	switch runtime.GOOS {
	case "darwin", "windows":
		return strings.EqualFold(a, b)
	}
	return a == b
}
