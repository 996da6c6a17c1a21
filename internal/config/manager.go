package config

import (
	"fmt"
	"sync"
)

// Manager provides thread-safe access to the live configuration. The
// daemon swaps a freshly validated config in on SIGHUP while request
// handlers keep reading the old pointer.
type Manager struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewManager constructs a manager with an initial config.
func NewManager(initial *Config) *Manager {
	return &Manager{cfg: initial}
}

// Get returns the current config pointer under a shared lock.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Set updates the current config pointer under an exclusive lock.
func (m *Manager) Set(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// Reload loads config from path and atomically swaps it into place. A
// load or validation failure leaves the previous config active.
func (m *Manager) Reload(path string) error {
	if path == "" {
		return fmt.Errorf("config reload path is required")
	}

	loaded, err := Load(path)
	if err != nil {
		return err
	}

	m.Set(loaded)
	return nil
}
