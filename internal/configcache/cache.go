package configcache

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/lightapirouter/router/internal/apierrors"
)

// entry is one cached, parsed config alongside the mtime it was parsed at.
// Once inserted, Parsed is never mutated — in-flight requests that captured
// a *ApiConfig pointer keep observing that exact value even if the cache
// refreshes underneath them (spec.md §3 invariant).
type entry struct {
	path     string
	lastMod  time.Time
	parsed   *ApiConfig
}

// Cache implements component C2: load+parse a transformer file, reloading it
// when its mtime advances. Readers take the read lock only for the pointer
// copy; parsing happens entirely off that lock so a slow parse never blocks
// concurrent readers for longer than the stat+swap.
type Cache struct {
	source Source

	mu      sync.RWMutex
	entries map[string]*entry
	watched map[string]struct{}

	watcher   *fsnotify.Watcher
	watchOnce sync.Once
}

// New builds a Cache backed by the given Source (FileSource{} in production).
func New(source Source) *Cache {
	return &Cache{
		source:  source,
		entries: make(map[string]*entry),
		watched: make(map[string]struct{}),
	}
}

// Load returns the parsed ApiConfig for path, reading and parsing the file
// only when the cache is cold or the file's mtime has advanced since the
// last load. It implements the C2 contract from spec.md §4.1.
func (c *Cache) Load(path string) (*ApiConfig, error) {
	mtime, err := c.source.ModTime(path)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindConfigRead, "read transformer config", err)
	}

	c.mu.RLock()
	cached, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && !mtime.After(cached.lastMod) {
		return cached.parsed, nil
	}

	return c.parseAndStore(path, mtime)
}

// parseAndStore reads, parses, and caches path at mtime, used both by Load's
// synchronous cold/stale path and by watchLoop's eager reload on an fsnotify
// event.
func (c *Cache) parseAndStore(path string, mtime time.Time) (*ApiConfig, error) {
	raw, err := c.source.ReadFile(path)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindConfigRead, "read transformer config", err)
	}

	parsed, err := parse(raw)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindConfigParse, "parse transformer config", err)
	}

	next := &entry{path: path, lastMod: mtime, parsed: parsed}

	c.mu.Lock()
	// Another goroutine may have refreshed to an equal-or-newer mtime while
	// we were reading/parsing off-lock; never regress to a stale entry.
	if existing, ok := c.entries[path]; !ok || next.lastMod.After(existing.lastMod) {
		c.entries[path] = next
	} else {
		next = existing
	}
	c.mu.Unlock()

	return next.parsed, nil
}

// parse decodes the transformer JSON and applies defaults, per spec.md §4.1
// ("parsing is lenient about missing optional fields").
func parse(raw []byte) (*ApiConfig, error) {
	var cfg ApiConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.BaseURL = normalizeBaseURL(cfg.BaseURL)
	return &cfg, nil
}

// WatchForInvalidation starts an fsnotify watch on path's directory and
// registers path so watchLoop eagerly reparses and re-caches it as soon as a
// write/create/rename event for it arrives, instead of waiting for the next
// Load call to notice the mtime change. Load's own mtime check remains the
// source of truth and stays correct with or without the watcher running —
// this only shortens how long a reload takes to land in the cache.
func (c *Cache) WatchForInvalidation(path string) {
	c.mu.Lock()
	c.watched[path] = struct{}{}
	c.mu.Unlock()

	c.watchOnce.Do(func() {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			log.WithError(err).Warn("configcache: fsnotify watcher unavailable, falling back to poll-only reload")
			return
		}
		c.watcher = w
		go c.watchLoop()
	})
	if c.watcher == nil {
		return
	}
	if err := c.watcher.Add(dirOf(path)); err != nil {
		log.WithError(err).WithField("path", path).Warn("configcache: failed to watch transformer directory")
	}
}

func (c *Cache) watchLoop() {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			c.mu.RLock()
			_, tracked := c.watched[event.Name]
			c.mu.RUnlock()
			if !tracked {
				continue
			}
			mtime, err := c.source.ModTime(event.Name)
			if err != nil {
				log.WithError(err).WithField("file", event.Name).Debug("configcache: stat after fsnotify event failed, next Load will retry")
				continue
			}
			if _, err := c.parseAndStore(event.Name, mtime); err != nil {
				log.WithError(err).WithField("file", event.Name).Warn("configcache: eager reload after fsnotify event failed, next Load will retry")
				continue
			}
			log.WithField("file", event.Name).Debug("configcache: eagerly reloaded transformer file after fsnotify event")
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("configcache: watcher error")
		}
	}
}

// Close releases the fsnotify watcher, if one was started.
func (c *Cache) Close() error {
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Close()
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
