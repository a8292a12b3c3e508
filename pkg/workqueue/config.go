package workqueue

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/blockforge/iopool/pkg/logging"
)

// FileObserver is the configuration observer registry ThreadPool
// subscribes to. It watches a YAML file of key: value pairs and invokes
// registered callbacks whenever a tracked key's value changes, letting
// a pool's thread count react to config edits without a hidden
// process-wide singleton.
type FileObserver struct {
	mu        sync.Mutex
	path      string
	log       *logging.Logger
	watcher   *fsnotify.Watcher
	current   map[string]string
	callbacks map[string][]func(string)
	done      chan struct{}
}

// NewFileObserver starts watching path's parent directory for changes
// and performs an initial load. The file need not exist yet; it is
// reloaded the first time it (or its directory) changes.
func NewFileObserver(path string, log *logging.Logger) (*FileObserver, error) {
	if log == nil {
		log = logging.Nop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("workqueue: create config watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("workqueue: watch %s: %w", dir, err)
	}

	o := &FileObserver{
		path:      path,
		log:       log,
		watcher:   watcher,
		current:   make(map[string]string),
		callbacks: make(map[string][]func(string)),
		done:      make(chan struct{}),
	}

	if err := o.reload(); err != nil {
		o.log.Warn("initial config load failed", logging.Fields{"path": path, "error": err.Error()})
	}

	go o.loop()
	return o, nil
}

// Subscribe registers fn to run whenever key's value changes. If key
// already has a value, fn is invoked once immediately with it.
func (o *FileObserver) Subscribe(key string, fn func(value string)) {
	o.mu.Lock()
	o.callbacks[key] = append(o.callbacks[key], fn)
	value, ok := o.current[key]
	o.mu.Unlock()

	if ok {
		fn(value)
	}
}

// SubscribeInt is Subscribe for integer-valued keys (such as a pool's
// thread-count key); malformed values are logged and ignored rather
// than propagated, applied on a best-effort basis.
func (o *FileObserver) SubscribeInt(key string, fn func(value int)) {
	o.Subscribe(key, func(raw string) {
		n, err := strconv.Atoi(raw)
		if err != nil {
			o.log.Warn("ignoring non-integer config value", logging.Fields{"key": key, "value": raw})
			return
		}
		fn(n)
	})
}

func (o *FileObserver) loop() {
	for {
		select {
		case _, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			if err := o.reload(); err != nil {
				o.log.Warn("config reload failed", logging.Fields{"error": err.Error()})
			}
		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			o.log.Warn("config watcher error", logging.Fields{"error": err.Error()})
		case <-o.done:
			return
		}
	}
}

func (o *FileObserver) reload() error {
	data, err := os.ReadFile(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	next := make(map[string]string)
	if err := yaml.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("parse %s: %w", o.path, err)
	}

	o.mu.Lock()
	changed := make(map[string]string)
	for k, v := range next {
		if o.current[k] != v {
			changed[k] = v
		}
	}
	o.current = next

	fire := make(map[string][]func(string), len(changed))
	for k := range changed {
		fire[k] = append([]func(string){}, o.callbacks[k]...)
	}
	o.mu.Unlock()

	for k, v := range changed {
		for _, fn := range fire[k] {
			fn(v)
		}
	}
	return nil
}

// Close stops watching and releases the underlying fsnotify watcher.
func (o *FileObserver) Close() error {
	close(o.done)
	return o.watcher.Close()
}
