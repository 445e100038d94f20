package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"sync/atomic"

	logx "ledgercast/pkg/logx"
)

// Validator vets a reloaded configuration before it replaces the current one.
type Validator func(ctx context.Context, cfg *Config) error

// ConfigManager owns the current configuration. It parses the file, overlays
// the environment and, while Watch runs, republishes on content change.
type ConfigManager struct {
	path      string
	lookup    LookupFunc
	log       logx.Logger
	validator Validator

	current     atomic.Pointer[Config]
	fingerprint atomic.Uint64

	subMu   sync.Mutex
	subs    map[uint64]chan *Config
	nextSub uint64
}

// NewConfigManager reads from path; an empty path means defaults plus environment.
func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, lookup: os.LookupEnv, log: logx.Nop(), subs: map[uint64]chan *Config{}}
}

// Load is a one-shot parse with the process environment.
func Load(path string) (*Config, error) {
	return NewConfigManager(path).Load()
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

// SetEnvLookup replaces os.LookupEnv. nil disables the overlay.
func (m *ConfigManager) SetEnvLookup(fn LookupFunc) { m.lookup = fn }

// SetValidator installs the hook Watch runs before committing a reload.
func (m *ConfigManager) SetValidator(fn Validator) { m.validator = fn }

// Parse builds a validated Config without committing it.
func (m *ConfigManager) Parse() (*Config, error) {
	var cfg *Config
	if m.path == "" {
		cfg = Default()
	} else {
		raw, err := os.ReadFile(m.path)
		if err != nil {
			return nil, err
		}
		cfg = &Config{}
		if err := decodeStrict(m.path, raw, cfg); err != nil {
			return nil, err
		}
		cfg.ApplyDefaults()
	}
	ApplyEnv(cfg, m.lookup)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeStrict rejects unknown keys and anything after the first document.
func decodeStrict(path string, raw []byte, cfg *Config) error {
	jb, format, err := coerceToJSONBytes(path, raw)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%s config %s: %w", format, path, err)
	}
	if dec.More() {
		return fmt.Errorf("%s config %s: trailing data after the first document", format, path)
	}
	return nil
}

// Load parses and commits.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

// Commit makes cfg current without notifying subscribers.
func (m *ConfigManager) Commit(cfg *Config) {
	m.current.Store(cfg)
	m.fingerprint.Store(fingerprint(cfg))
}

func (m *ConfigManager) Get() *Config { return m.current.Load() }

func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel receiving every committed reload. A subscriber
// that falls behind only ever sees the newest config. cancel closes the channel.
func (m *ConfigManager) Subscribe(buffer int) (updates <-chan *Config, cancel func()) {
	ch := make(chan *Config, max(buffer, 1))
	m.subMu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = ch
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			close(ch)
			m.subMu.Unlock()
		})
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		// Full: drop the stale entry so the newest config gets in.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
		}
	}
}

// reload re-reads the file and publishes it when the content differs from
// the committed config and the validator accepts it.
func (m *ConfigManager) reload(ctx context.Context) error {
	cfg, err := m.Parse()
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	fp := fingerprint(cfg)
	if fp != 0 && fp == m.fingerprint.Load() {
		return errUnchanged
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			return fmt.Errorf("rejected: %w", err)
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	return nil
}

var errUnchanged = errors.New("config unchanged")
