package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "bgrefresh/pkg/logx"
)

const (
	reloadDebounce   = 250 * time.Millisecond
	validateTimeout  = 5 * time.Second
	watchBackoffMin  = 250 * time.Millisecond
	watchBackoffMax  = 5 * time.Second
	watchedFileEvent = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
)

// ConfigManager owns the config file: it loads it, watches it and hands
// validated revisions to subscribers.
type ConfigManager struct {
	path string
	log  logx.Logger

	mu      sync.RWMutex
	cfg     *Config
	version uint64 // fnv hash of the committed config

	// check runs after Validate on every reload. A non-nil error keeps the
	// current revision.
	check func(ctx context.Context, prev, next *Config) error

	subsMu sync.Mutex
	subs   map[chan *Config]struct{}
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path: path,
		log:  logx.Nop(),
		subs: make(map[chan *Config]struct{}),
	}
}

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator installs a check that reloads must pass before they are
// committed. prev is the committed revision.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, prev, next *Config) error) {
	m.check = fn
}

// Load reads, validates and commits the file.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	m.commit(cfg)
	return cfg, nil
}

// Get returns the committed revision.
func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel that receives every committed reload. Only the
// newest revision is kept when the subscriber falls behind.
func (m *ConfigManager) Subscribe(buffer int) (<-chan *Config, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, ch)
			close(ch)
			m.subsMu.Unlock()
		})
	}
}

func (m *ConfigManager) read() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return decode(m.path, b)
}

func decode(path string, b []byte) (*Config, error) {
	jb, err := toJSON(path, b)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: trailing data after config object", filepath.Base(path))
	}
	return &cfg, nil
}

func (m *ConfigManager) commit(cfg *Config) {
	v := fingerprint(cfg)
	m.mu.Lock()
	m.cfg, m.version = cfg, v
	m.mu.Unlock()
}

func fingerprint(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func (m *ConfigManager) broadcast(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				// Full: discard the oldest pending revision and retry.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// reload re-reads the file and publishes it when it differs from the
// committed revision and passes validation.
func (m *ConfigManager) reload(ctx context.Context) {
	log := m.log.With(logx.String("path", m.path))
	next, err := m.read()
	if err != nil {
		log.Warn("config reload failed", logx.Err(err))
		return
	}
	v := fingerprint(next)
	m.mu.RLock()
	prev, same := m.cfg, v != 0 && v == m.version
	m.mu.RUnlock()
	if same {
		log.Debug("config file touched without changes")
		return
	}

	err = next.Validate()
	if err == nil && m.check != nil {
		cctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err = m.check(cctx, prev, next)
		cancel()
	}
	if err != nil {
		log.Warn("config reload rejected; keeping current revision", logx.Err(err))
		return
	}
	m.commit(next)
	m.broadcast(next)
	log.Debug("config revision committed", logx.String("version", fmt.Sprintf("%016x", v)))
}

// Watch reloads the file after changes settle until ctx ends. A broken
// fsnotify watcher is replaced after a growing pause.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	pause := watchBackoffMin
	for {
		err := m.watchOnce(ctx, dir, name, func() { pause = watchBackoffMin })
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("config watcher restarting", logx.String("dir", dir), logx.Duration("pause", pause), logx.Err(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pause):
		}
		pause = min(2*pause, watchBackoffMax)
	}
}

// watchOnce runs one fsnotify watcher until it fails or ctx ends. Reloads
// run on this goroutine after reloadDebounce of quiet.
func (m *ConfigManager) watchOnce(ctx context.Context, dir, name string, healthy func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	// Watch the directory: editors save by writing a new file and renaming it.
	if err := w.Add(dir); err != nil {
		return err
	}
	healthy()
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-settle.C:
			m.reload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("fsnotify events closed")
			}
			if ev.Op&watchedFileEvent != 0 && strings.EqualFold(filepath.Base(ev.Name), name) {
				settle.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return errors.New("fsnotify errors closed")
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// Events were lost; one of them may have been ours.
				settle.Reset(reloadDebounce)
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}
