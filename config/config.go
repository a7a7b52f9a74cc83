// Package config holds the execution substrate's tuning knobs — the
// grouping pass's fan-out cap, queue capacities, and steal-retry
// backoff — loaded from a JSON file and hot-reloaded on edits, plus the
// API version callers can gate against before starting the scheduler.
package config

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
)

// apiVersion is the compatibility version callers can gate against via
// scheduler.BeginCompatible's version constraint check (spec §6 gains no such gate; this is
// an ambient addition mirroring the teacher's package-manager version
// negotiation).
var apiVersion = semver.MustParse("1.0.0")

// APIVersion returns the execution substrate's own version, for callers
// that want to check compatibility before starting the scheduler.
func APIVersion() *semver.Version {
	return apiVersion
}

// Satisfies reports whether apiVersion meets constraint (e.g. ">=1.0.0,
// <2.0.0"). An empty constraint always matches.
func Satisfies(constraint string) (bool, error) {
	if constraint == "" {
		return true, nil
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, err
	}

	return c.Check(apiVersion), nil
}

// fileConfig is the on-disk JSON shape.
type fileConfig struct {
	GroupFactor      int `json:"group_factor"`
	QueueCapacity    int `json:"queue_capacity"`
	StealRetryMillis int `json:"steal_retry_millis"`
}

// Config holds the live, hot-reloadable tuning values. Construct one with
// New or Load, which seed the defaults; a zero Config reports 0 for every
// value.
type Config struct {
	groupFactor      atomic.Int64
	queueCapacity    atomic.Int64
	stealRetryMillis atomic.Int64

	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config)

	mu sync.Mutex
}

const (
	defaultGroupFactor      = 4
	defaultQueueCapacity    = 0 // 0 means unbounded, matching queue.Queue's unbounded list-backed store
	defaultStealRetryMillis = 1
)

// New returns a Config seeded with defaults and no backing file.
func New() *Config {
	c := &Config{}
	c.groupFactor.Store(defaultGroupFactor)
	c.queueCapacity.Store(defaultQueueCapacity)
	c.stealRetryMillis.Store(defaultStealRetryMillis)

	return c
}

// Load reads path as JSON into a fresh Config, falling back to defaults
// for any field the file doesn't set. A missing file is not an error —
// it's treated the same as New().
func Load(path string) (*Config, error) {
	c := New()
	c.path = path

	if err := c.reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return c, nil
}

func (c *Config) reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return err
	}

	if fc.GroupFactor > 0 {
		c.groupFactor.Store(int64(fc.GroupFactor))
	}
	if fc.QueueCapacity >= 0 {
		c.queueCapacity.Store(int64(fc.QueueCapacity))
	}
	if fc.StealRetryMillis > 0 {
		c.stealRetryMillis.Store(int64(fc.StealRetryMillis))
	}

	c.mu.Lock()
	cb := c.onChange
	c.mu.Unlock()

	if cb != nil {
		cb(c)
	}

	return nil
}

// GroupFactor returns the current value of G, the grouping pass's
// per-node fan-out cap (spec §4.G).
func (c *Config) GroupFactor() int {
	return int(c.groupFactor.Load())
}

// QueueCapacity returns the configured queue capacity hint; 0 means
// unbounded.
func (c *Config) QueueCapacity() int {
	return int(c.queueCapacity.Load())
}

// StealRetryMillis returns the configured delay between failed steal
// sweeps. The worker loop does not read it; it backs off by a fixed
// interval.
func (c *Config) StealRetryMillis() int {
	return int(c.stealRetryMillis.Load())
}

// OnChange registers a callback invoked (with the Config's current
// values) every time the backing file is reloaded. Typically wired to
// scheduler.Scheduler.SetGroupFactor.
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Watch starts an fsnotify watch on the backing file, hot-reloading on
// every write. Mirrors the teacher's FSNotifyWatcher: a background
// goroutine drains the watcher's Events/Errors channels for the
// lifetime of the process or until Close is called.
func (c *Config) Watch() error {
	if c.path == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := w.Add(c.path); err != nil {
		w.Close()

		return err
	}

	c.watcher = w

	go c.watchLoop()

	return nil
}

func (c *Config) watchLoop() {
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if err := c.reload(); err != nil {
				log.Printf("config: reload of %s failed: %v", c.path, err)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}

			log.Printf("config: watch error on %s: %v", c.path, err)
		}
	}
}

// Close stops the file watch, if one was started.
func (c *Config) Close() error {
	if c.watcher == nil {
		return nil
	}

	return c.watcher.Close()
}
