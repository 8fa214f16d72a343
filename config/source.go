package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Tunables are the settings a running coordinator picks up without restart.
type Tunables struct {
	HeartbeatPeriod time.Duration
	StaleTimeout    time.Duration
}

// Source streams Tunables. Watch callbacks fire on every change until the
// returned cancel func is called.
type Source interface {
	Current() Tunables
	Watch(fn func(Tunables)) (cancel func())
}

type watchers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Tunables)
}

func (w *watchers) add(fn func(Tunables)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fns == nil {
		w.fns = make(map[int]func(Tunables))
	}
	id := w.next
	w.next++
	w.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.fns, id)
			w.mu.Unlock()
		})
	}
}

// notify calls every watcher outside the lock so a callback may cancel itself.
func (w *watchers) notify(t Tunables) {
	w.mu.Lock()
	fns := make([]func(Tunables), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
}

func (w *watchers) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.fns)
}

// StaticSource holds Tunables set programmatically.
type StaticSource struct {
	mu  sync.RWMutex
	cur Tunables
	ws  watchers
}

// NewStaticSource returns a source starting at t.
func NewStaticSource(t Tunables) *StaticSource {
	return &StaticSource{cur: t}
}

func (s *StaticSource) Current() Tunables {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *StaticSource) Watch(fn func(Tunables)) func() {
	return s.ws.add(fn)
}

// Set replaces the tunables and notifies watchers.
func (s *StaticSource) Set(t Tunables) {
	s.mu.Lock()
	s.cur = t
	s.mu.Unlock()
	s.ws.notify(t)
}

// Watchers reports how many callbacks are registered.
func (s *StaticSource) Watchers() int { return s.ws.count() }

// FileSource reloads Tunables whenever the config file changes on disk.
// Edits that fail validation are logged and ignored.
type FileSource struct {
	mu  sync.RWMutex
	cur Tunables
	ws  watchers
	log zerolog.Logger
}

// NewFileSource loads configPath and starts watching it.
func NewFileSource(configPath string, logger zerolog.Logger) (*FileSource, *Config, error) {
	cfg, v, err := load(configPath)
	if err != nil {
		return nil, nil, err
	}

	fs := &FileSource{cur: cfg.Cluster.Tunables(), log: logger}
	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			fs.reload(func() (*Config, error) { return decode(v) }, e.Name)
		})
		v.WatchConfig()
	}
	return fs, cfg, nil
}

func (f *FileSource) reload(read func() (*Config, error), name string) {
	cfg, err := read()
	if err != nil {
		f.log.Warn().Err(err).Str("file", name).Msg("Ignoring invalid configuration change")
		return
	}

	t := cfg.Cluster.Tunables()
	f.mu.Lock()
	changed := t != f.cur
	f.cur = t
	f.mu.Unlock()
	if !changed {
		return
	}

	f.log.Info().
		Dur("heartbeat_period", t.HeartbeatPeriod).
		Dur("stale_timeout", t.StaleTimeout).
		Msg("Cluster tunables reloaded")
	f.ws.notify(t)
}

func (f *FileSource) Current() Tunables {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cur
}

func (f *FileSource) Watch(fn func(Tunables)) func() {
	return f.ws.add(fn)
}
