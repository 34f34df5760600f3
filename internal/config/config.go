// Package config implements the mission configuration store: koanf-backed
// key-value state loaded from YAML with environment overrides, ordered
// subscriber notification on every update, and optional durable rewrite of
// the config file. Commands mutate it in flight; the orientation controller
// and dispatcher read it live.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

// Keys the core reads. Everything else in the file is carried verbatim.
const (
	KeySatelliteName     = "satellite.name"
	KeySecret            = "auth.secret"
	KeyOverrideSecret    = "auth.override_secret"
	KeyOrientSetting     = "orient_payload_setting"
	KeyOrientPeriodHours = "orient_payload_periodic_time"
	KeyJokes             = "jokes"
)

// defaultYAML seeds every key the core depends on so a sparse config file
// still yields a runnable store.
const defaultYAML = `
satellite:
  name: flightd-1
auth:
  secret: ""
  override_secret: ""
orient_payload_setting: 1
orient_payload_periodic_time: 24
jokes:
  - "Why did the satellite break up with the ground station? It needed space."
`

// Subscriber receives every store update, in registration order, before the
// update is persisted.
type Subscriber func(key string, value any)

// Store is the mutable mission configuration.
type Store struct {
	mu          sync.RWMutex
	k           *koanf.Koanf
	path        string
	subscribers []Subscriber
	logger      *zap.Logger
}

// Load builds a store from the YAML file at path layered over defaults, with
// FLIGHT_-prefixed environment variables on top. A missing file is not an
// error; the defaults apply.
func Load(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	k, err := loadKoanf(path)
	if err != nil {
		return nil, err
	}

	return &Store{k: k, path: path, logger: logger}, nil
}

func loadKoanf(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return nil, err
		}
	}

	// FLIGHT_AUTH_SECRET -> auth.secret, FLIGHT_SATELLITE_NAME -> satellite.name
	if err := k.Load(env.Provider("FLIGHT_", ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, "FLIGHT_"))
		return strings.Replace(lower, "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	return k, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Subscribe registers a callback invoked synchronously on every update.
// Callbacks run in registration order, before any persistence write.
func (s *Store) Subscribe(cb Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, cb)
}

// Get returns the raw value at key, or nil if absent.
func (s *Store) Get(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k.Get(key)
}

// String returns the string value at key.
func (s *Store) String(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k.String(key)
}

// Int returns the int value at key.
func (s *Store) Int(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k.Int(key)
}

// Float returns the float64 value at key.
func (s *Store) Float(key string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k.Float64(key)
}

// Strings returns the string-slice value at key.
func (s *Store) Strings(key string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k.Strings(key)
}

// Update sets key to value, notifies subscribers, and, if durable, rewrites
// the config file. A persistence failure is returned for the caller to log;
// the in-memory update and the notifications have already happened and the
// mission keeps running on them. A non-durable update lives only in memory
// and does not survive a watcher reload: the file is authoritative on an
// external edit.
func (s *Store) Update(key string, value any, durable bool) error {
	s.mu.Lock()
	if err := s.k.Set(key, value); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	subscribers := make([]Subscriber, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.Unlock()

	for _, cb := range subscribers {
		cb(key, value)
	}

	if !durable {
		return nil
	}
	if err := s.persist(key, value); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}

// persist merges one key into the on-disk YAML without clobbering keys the
// file has and the store never touched.
func (s *Store) persist(key string, value any) error {
	if s.path == "" {
		return nil
	}

	parser := yaml.Parser()
	doc := map[string]any{}
	if content, err := os.ReadFile(s.path); err == nil {
		doc, err = parser.Unmarshal(content)
		if err != nil {
			return fmt.Errorf("existing file is not valid YAML: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	setPath(doc, strings.Split(key, "."), value)

	out, err := parser.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, out, 0o600)
}

func setPath(doc map[string]any, path []string, value any) {
	if len(path) == 1 {
		doc[path[0]] = value
		return
	}
	child, ok := doc[path[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		doc[path[0]] = child
	}
	setPath(child, path[1:], value)
}

// replace swaps the backing koanf and reports which keys changed. Used by
// the file watcher on external edits. The incoming koanf is rebuilt from
// defaults, file and environment, so values set only by non-durable Updates
// revert to their on-file state and the revert is reported as a change.
func (s *Store) replace(next *koanf.Koanf) []string {
	s.mu.Lock()
	prev := s.k
	s.k = next
	s.mu.Unlock()

	var changed []string
	for key, value := range next.All() {
		if fmt.Sprint(prev.Get(key)) != fmt.Sprint(value) {
			changed = append(changed, key)
		}
	}
	return changed
}
