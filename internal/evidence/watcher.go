package evidence

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchConfig holds spool directory watch settings.
type WatchConfig struct {
	Dir string
	// Debounce coalesces the create/write bursts a camera gateway produces
	// while it is still flushing a file.
	Debounce time.Duration
}

// StartWatcher watches the camera drop directory and emits the path of
// every settled JPEG, including files already present at startup. The
// channel closes when ctx is done.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *zap.Logger) (<-chan string, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 200 * time.Millisecond
	}
	out := make(chan string, 256)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(cfg.Dir); err != nil {
		_ = w.Close()
		return nil, err
	}

	// Files already on disk: dropped while the daemon was down.
	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	var initial []string
	for _, e := range entries {
		if !e.IsDir() && isJPEG(e.Name()) {
			initial = append(initial, filepath.Join(cfg.Dir, e.Name()))
		}
	}

	go func() {
		defer close(out)
		defer func() { _ = w.Close() }()

		for _, p := range initial {
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}

		var timer *time.Timer
		pending := map[string]struct{}{}
		flush := make(chan struct{}, 1)
		sendPending := func() {
			select {
			case flush <- struct{}{}:
			default:
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-flush:
				for p := range pending {
					delete(pending, p)
					select {
					case out <- p:
					case <-ctx.Done():
						return
					}
				}
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if !isJPEG(e.Name) || e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				pending[e.Name] = struct{}{}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(cfg.Debounce, sendPending)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("evidence.watch.error", zap.Error(err))
			}
		}
	}()

	return out, nil
}

func isJPEG(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jpg" || ext == ".jpeg"
}
