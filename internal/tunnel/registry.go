package tunnel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/singleflight"
)

// RegistryEntry is one device's persisted tunnel descriptor (spec.md §4.11
// "TunnelRegistryEntry"), keyed by UDID in Registry's map.
type RegistryEntry struct {
	DeviceId       string    `json:"deviceId"`
	Address        string    `json:"address"`
	RsdPort        int       `json:"rsdPort"`
	ConnectionType string    `json:"connectionType"`
	ProductId      int64     `json:"productId"`
	CreatedAt      time.Time `json:"createdAt"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

type registryMetadata struct {
	LastUpdated    time.Time `json:"lastUpdated"`
	TotalTunnels   int       `json:"totalTunnels"`
	ActiveTunnels  int       `json:"activeTunnels"`
}

type registryDocument struct {
	Tunnels  map[string]RegistryEntry `json:"tunnels"`
	Metadata registryMetadata         `json:"metadata"`
}

// Registry persists tunnel descriptors across process restarts, following
// the teacher's cached-fetch-with-singleflight pattern
// (internal/onchain.CachingFetcher) for Load and an atomic write-then-rename
// for every mutation (spec.md §4.11).
type Registry struct {
	path string

	mu    sync.Mutex
	group singleflight.Group
}

// NewRegistry opens the registry file at path, which need not yet exist.
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

// Load reads the registry, treating a missing or malformed file as "no
// registry" rather than an error (spec.md §4.11 "load"). Concurrent callers
// collapse onto a single disk read via singleflight.
func (r *Registry) Load() (map[string]RegistryEntry, error) {
	v, err, _ := r.group.Do("load", func() (any, error) {
		doc, err := r.readDocument()
		if err != nil {
			return nil, err
		}
		return doc.Tunnels, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]RegistryEntry), nil
}

func (r *Registry) readDocument() (registryDocument, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return registryDocument{Tunnels: map[string]RegistryEntry{}}, nil
		}
		return registryDocument{}, fmt.Errorf("tunnel: read registry: %w", err)
	}
	var doc registryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("tunnel: malformed registry, treating as empty", "error", err)
		return registryDocument{Tunnels: map[string]RegistryEntry{}}, nil
	}
	if doc.Tunnels == nil {
		doc.Tunnels = map[string]RegistryEntry{}
	}
	return doc, nil
}

// Update merges results into the registry, preserving each entry's
// createdAt and bumping lastUpdated, written atomically (spec.md §4.11
// "update").
func (r *Registry) Update(results map[string]RegistryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.readDocument()
	if err != nil {
		return err
	}
	now := time.Now()
	for udid, entry := range results {
		if existing, ok := doc.Tunnels[udid]; ok && !existing.CreatedAt.IsZero() {
			entry.CreatedAt = existing.CreatedAt
		} else if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		entry.LastUpdated = now
		doc.Tunnels[udid] = entry
	}
	doc.Metadata = registryMetadata{
		LastUpdated:   now,
		TotalTunnels:  len(doc.Tunnels),
		ActiveTunnels: len(doc.Tunnels),
	}
	return r.writeAtomic(doc)
}

// Clear resets the registry to empty; on write failure it falls back to a
// best-effort delete of the file (spec.md §4.11 "clear").
func (r *Registry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := registryDocument{Tunnels: map[string]RegistryEntry{}, Metadata: registryMetadata{LastUpdated: time.Now()}}
	if err := r.writeAtomic(doc); err != nil {
		if rmErr := os.Remove(r.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("tunnel: clear registry (write failed: %v, remove failed): %w", err, rmErr)
		}
	}
	return nil
}

func (r *Registry) writeAtomic(doc registryDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("tunnel: marshal registry: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("tunnel: write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("tunnel: rename registry into place: %w", err)
	}
	return nil
}

// InstallSignalHandlers arranges for Clear to run before the process exits
// on SIGINT, SIGTERM, or SIGHUP (spec.md §4.11). It returns a stop function
// that cancels the handler.
func InstallSignalHandlers(r *Registry) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			slog.Info("tunnel: clearing registry on signal", "signal", sig)
			if err := r.Clear(); err != nil {
				slog.Error("tunnel: clear registry on signal failed", "error", err)
			}
			// Restore the default disposition and re-raise so the signal
			// still terminates the process.
			signal.Stop(ch)
			if s, ok := sig.(syscall.Signal); ok {
				_ = syscall.Kill(syscall.Getpid(), s)
			}
		case <-done:
		}
	}()
	return func() {
		close(done)
		signal.Stop(ch)
	}
}

