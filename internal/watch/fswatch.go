package watch

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

// fsTrigger watches opts.WatchPath (when set) and requests an early
// analysis cycle on debounced filesystem activity, rather than waiting
// for the next regular tick. This is an optional convenience on top of
// the ticker/deadline/signal trio spec.md §4.4 names as the controller's
// cycle drivers — detecting and parsing the changed files themselves
// remains the engine adapters' job (out of scope, per spec.md §1);
// this only decides *when* to ask for another full scan.
type fsTrigger struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	log      func(format string, args ...any)
}

// newFSTrigger opens an fsnotify watcher on path. A failure to watch
// (path absent, platform limits) is non-fatal: the controller simply
// falls back to its regular ticker.
func newFSTrigger(path string, debounce time.Duration, log func(format string, args ...any)) *fsTrigger {
	if path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log("watch: fsnotify unavailable, falling back to ticker only: %v", err)
		return nil
	}
	if err := w.Add(path); err != nil {
		log("watch: fsnotify add %q failed, falling back to ticker only: %v", path, err)
		w.Close()
		return nil
	}
	return &fsTrigger{watcher: w, debounce: debounce, log: log}
}

// run forwards a debounced "run now" signal to retryCh until done fires.
// Multiple events within the debounce window collapse into a single
// retry request, mirroring the debounce/ticker split autotidy's watcher
// uses for its per-rule timers.
func (f *fsTrigger) run(done <-chan struct{}, retryCh chan<- struct{}) {
	defer f.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-done:
			if timer != nil {
				timer.Stop()
			}
			return
		case _, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if timer == nil {
				timer = time.NewTimer(f.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(f.debounce)
			}
			fire = timer.C
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log("watch: fsnotify error: %v", err)
		case <-fire:
			select {
			case retryCh <- struct{}{}:
			default:
			}
			fire = nil
		}
	}
}
