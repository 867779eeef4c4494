// Package rsd turns the XPC handshake's decoded Services map into a
// queryable service-name-to-port catalog, cached with a bounded admission
// policy so repeated lookups during a long tunnel session don't repeatedly
// walk the raw XPC tree (spec.md §4.6 final paragraph, C11).
package rsd

import (
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/appium/go-ios-remotexpc/internal/xpc"
)

// Service is one resolved RSD catalog entry.
type Service struct {
	Port       string
	Properties map[string]xpc.Value
}

// Catalog is a lookup cache over a device's Services map.
type Catalog struct {
	cache *ristretto.Cache
}

// NewCatalog builds a Catalog from the handshake's decoded Services map,
// populating a ristretto cache sized for a handful of services per device
// session.
func NewCatalog(services map[string]xpc.ServiceEntry) (*Catalog, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1000,
		MaxCost:     1 << 16,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("rsd: create cache: %w", err)
	}

	c := &Catalog{cache: cache}
	for name, entry := range services {
		svc := Service{Port: entry.Port, Properties: entry.Properties}
		c.cache.Set(name, svc, 1)
	}
	c.cache.Wait()
	return c, nil
}

// Lookup resolves a service name to its port. ok is false when the name is
// absent from the catalog (spec.md §4.8 step 2: ServiceNotFound).
func (c *Catalog) Lookup(name string) (Service, bool) {
	v, ok := c.cache.Get(name)
	if !ok {
		return Service{}, false
	}
	return v.(Service), true
}

// Ports returns a lockdown.Catalog-shaped name-to-port map holding each of
// names that is currently cached; names not in the cache are omitted.
func (c *Catalog) Ports(names []string) map[string]string {
	out := make(map[string]string, len(names))
	for _, name := range names {
		if svc, ok := c.Lookup(name); ok {
			out[name] = svc.Port
		}
	}
	return out
}

// Close releases the underlying cache.
func (c *Catalog) Close() { c.cache.Close() }
