// Package config holds the on-disk, JSON-backed settings for the
// RemoteXPC client: where pair records and the tunnel registry live,
// default timeouts, and which discovery mode to use.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DiscoveryMode selects how devices are found.
type DiscoveryMode string

const (
	DiscoveryUSBMux  DiscoveryMode = "usbmux"
	DiscoveryBonjour DiscoveryMode = "bonjour"
)

// Config is the persisted client configuration.
type Config struct {
	PairRecordDir    string        `json:"pair_record_dir"`
	TunnelRegistry   string        `json:"tunnel_registry_path"`
	DiscoveryMode    DiscoveryMode `json:"discovery_mode"`
	PairVerifyTimeout time.Duration `json:"pair_verify_timeout"`
	MetricsEnabled   bool          `json:"metrics_enabled"`

	path      string
	mu        sync.RWMutex
	changedCh chan struct{}
}

// New returns a Config with defaults, not yet persisted.
func New(path string) *Config {
	return &Config{
		path:              path,
		PairRecordDir:     filepath.Join(filepath.Dir(path), "pair-records"),
		TunnelRegistry:    filepath.Join(filepath.Dir(path), "tunnel-registry.json"),
		DiscoveryMode:     DiscoveryUSBMux,
		PairVerifyTimeout: 10 * time.Second,
		changedCh:         make(chan struct{}, 1),
	}
}

// Load reads and decodes the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := New(path)
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// Save persists cfg and signals any Changed() listener; a Save made while an
// earlier notification is still unconsumed coalesces into that one.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.saveLocked(); err != nil {
		return err
	}
	c.notifyChanged()
	return nil
}

func (c *Config) notifyChanged() {
	select {
	case c.changedCh <- struct{}{}:
	default:
	}
}

// Changed returns a channel that receives a coalesced notification after
// every Save.
func (c *Config) Changed() <-chan struct{} {
	return c.changedCh
}

// PairRecordsDir returns the directory pair records are stored under.
func (c *Config) PairRecordsDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.PairRecordDir
}

// RegistryPath returns the tunnel registry file path.
func (c *Config) RegistryPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TunnelRegistry
}

// Mode returns the configured discovery mode.
func (c *Config) Mode() DiscoveryMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DiscoveryMode
}

// saveLocked assumes c.mu is already held for writing.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".cfg-*.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("config: close: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("config: rename: %w", err)
	}
	return nil
}
