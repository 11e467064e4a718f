package corpus

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher triggers a callback when corpus files change on disk. Bursts of
// events (editor saves, rsync runs) collapse into a single callback per
// debounce window.
type Watcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func()
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWatcher creates a Watcher over dir and all of its non-hidden
// subdirectories. onChange runs on the watch goroutine, so it should hand
// off work rather than block.
func NewWatcher(dir string, debounce time.Duration, onChange func()) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if debounce <= 0 {
		debounce = defaultDebounce
	}

	w := &Watcher{
		dir:      dir,
		watcher:  fsWatcher,
		debounce: debounce,
		onChange: onChange,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}

	err = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(entry.Name(), ".") {
			return filepath.SkipDir
		}
		return fsWatcher.Add(path)
	})
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return w, nil
}

// Start runs the watch loop until the context is cancelled or Stop is called
func (w *Watcher) Start(ctx context.Context) {
	defer close(w.doneChan)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	log.Printf("corpus: watching %s", w.dir)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevantEvent(event) {
				continue
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err != nil {
						log.Printf("corpus: watch %s: %v", event.Name, err)
					}
				}
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("corpus: watch error: %v", err)
		case <-timer.C:
			w.onChange()
		}
	}
}

// Stop shuts the watcher down and waits for the loop to exit
func (w *Watcher) Stop() {
	close(w.stopChan)
	<-w.doneChan
	w.watcher.Close()
}

// relevantEvent reports whether an event should schedule a rescan. Events
// without an extension are kept because directory names rarely have one.
func relevantEvent(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}

	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}

	ext := strings.ToLower(filepath.Ext(base))
	return ext == "" || supportedExtensions[ext]
}
