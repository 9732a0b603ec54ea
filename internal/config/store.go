package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// watchDebounce coalesces rapid filesystem events from editors that write
// in multiple syscalls.
const watchDebounce = 50 * time.Millisecond

// Store is the process-wide config store over ~/.devark/config.json.
//
// Reads return defaults when the file is missing, a key is absent, or the
// JSON is unparsable. Writes rewrite the whole document atomically while
// preserving keys the caller did not touch.
type Store struct {
	path string

	mu   sync.RWMutex
	data map[string]json.RawMessage

	watcher   *fsnotify.Watcher
	listeners []func()
	stopWatch chan struct{}
	watchOnce sync.Once
}

// NewStore creates a config store over the given file path. An empty path
// uses the default ConfigPath().
func NewStore(path string) *Store {
	if path == "" {
		path = ConfigPath()
	}
	s := &Store{path: path, data: map[string]json.RawMessage{}}
	s.reload()
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// reload replaces the in-memory document from disk. Unparsable or missing
// files degrade to an empty document.
func (s *Store) reload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		s.data = map[string]json.RawMessage{}
		return
	}
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("Config file unparsable, using defaults")
		s.data = map[string]json.RawMessage{}
		return
	}
	s.data = doc
}

// Get decodes the value at key into out. Returns false (leaving out
// untouched) when the key is missing or the value does not decode.
func (s *Store) Get(key string, out any) bool {
	s.mu.RLock()
	raw, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// GetString returns the string at key, or def when absent.
func (s *Store) GetString(key, def string) string {
	var v string
	if s.Get(key, &v) {
		return v
	}
	return def
}

// Set stores value at key and persists the document.
func (s *Store) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.data[key] = raw
	err = s.flushLocked()
	s.mu.Unlock()
	return err
}

// Delete removes key and persists, preserving all other fields.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.flushLocked()
}

// Has reports whether key exists in the document.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok
}

func (s *Store) flushLocked() error {
	data, err := marshalIndent(s.data)
	if err != nil {
		return err
	}
	return atomicWrite(s.path, data, 0o600)
}

// Detection returns the detection settings, defaulted where unset.
func (s *Store) Detection() DetectionConfig {
	cfg := DefaultDetection()
	if s.Get("detection", &cfg) {
		cfg.Normalize()
	}
	return cfg
}

// SetDetection persists detection settings.
func (s *Store) SetDetection(cfg DetectionConfig) error {
	cfg.PollIntervalMs = int(cfg.PollInterval / time.Millisecond)
	cfg.DuplicateWindowMs = int(cfg.DuplicateWindow / time.Millisecond)
	return s.Set("detection", cfg)
}

// APIURL returns the sync backend base URL.
func (s *Store) APIURL() string {
	return s.GetString("apiUrl", DefaultAPIURL)
}

// ActiveProvider returns the configured LLM provider id.
func (s *Store) ActiveProvider() string {
	return s.GetString("activeProvider", DefaultProvider)
}

// SetActiveProvider persists the active LLM provider id.
func (s *Store) SetActiveProvider(id string) error {
	return s.Set("activeProvider", id)
}

// Provider returns the settings for the given provider id.
func (s *Store) Provider(id string) ProviderConfig {
	providers := map[string]ProviderConfig{}
	s.Get("providers", &providers)
	return providers[id]
}

// SetProvider persists the settings for one provider id, preserving the rest.
func (s *Store) SetProvider(id string, cfg ProviderConfig) error {
	providers := map[string]ProviderConfig{}
	s.Get("providers", &providers)
	providers[id] = cfg
	return s.Set("providers", providers)
}

// OnChange registers a listener fired (debounced) when the config file
// changes on disk. The first registration starts the watcher.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()

	s.watchOnce.Do(func() {
		if err := s.startWatcher(); err != nil {
			log.Warn().Err(err).Str("path", s.path).Msg("Config watcher unavailable")
		}
	})
}

func (s *Store) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// fsnotify cannot watch a not-yet-existing file; watch the directory.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return err
	}
	s.watcher = w
	s.stopWatch = make(chan struct{})
	go s.watchLoop()
	return nil
}

// Close stops the change watcher if one is running.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.stopWatch)
	return s.watcher.Close()
}

func (s *Store) watchLoop() {
	var debounce *time.Timer
	for {
		select {
		case <-s.stopWatch:
			if debounce != nil {
				debounce.Stop()
			}
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				s.reload()
				s.mu.RLock()
				listeners := make([]func(), len(s.listeners))
				copy(listeners, s.listeners)
				s.mu.RUnlock()
				for _, fn := range listeners {
					fn()
				}
			})
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")
		}
	}
}
