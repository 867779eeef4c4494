// Package discovery finds RemoteXPC-capable devices advertising the
// "_remotexpc._tcp" Bonjour service on the local network (spec.md §4.1)
// and keeps a running set of known devices fresh via periodic rescans.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/grandcat/zeroconf"
)

// ServiceType is the Bonjour/DNS-SD service type RemoteXPC devices
// advertise over their pairing/tunnel network interface.
const ServiceType = "_remotexpc._tcp"

// Peer describes one discovered device advertisement.
type Peer struct {
	Instance   string
	Hostname   string
	AddrsV4    []net.IP
	AddrsV6    []net.IP
	Port       int
	Properties map[string]string
}

// Browser watches the local network for RemoteXPC advertisements and
// maintains a deduplicated, thread-safe set of currently-visible peers.
type Browser struct {
	log *slog.Logger

	mu    sync.RWMutex
	peers map[string]Peer
}

// NewBrowser creates a Browser. A nil logger defaults to slog.Default().
func NewBrowser(log *slog.Logger) *Browser {
	if log == nil {
		log = slog.Default()
	}
	return &Browser{log: log, peers: make(map[string]Peer)}
}

// Peers returns a snapshot of the currently known devices.
func (b *Browser) Peers() []Peer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Peer, 0, len(b.peers))
	for _, p := range b.peers {
		out = append(out, p)
	}
	return out
}

// Lookup returns the peer advertising as instance, if currently visible.
func (b *Browser) Lookup(instance string) (Peer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.peers[instance]
	return p, ok
}

// Run browses continuously until ctx is canceled, reconnecting the
// underlying mDNS query with an exponential backoff whenever a scan
// attempt fails outright (as opposed to simply finding nothing).
func (b *Browser) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(250*time.Millisecond),
		backoff.WithMultiplier(2.0),
		backoff.WithMaxInterval(30*time.Second),
		backoff.WithMaxElapsedTime(0), // retry indefinitely; caller controls lifetime via ctx
		backoff.WithRandomizationFactor(0.2),
	)
	withCtx := backoff.WithContext(bo, ctx)

	op := func() error {
		err := b.scanOnce(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	return backoff.Retry(op, withCtx)
}

// scanOnce performs one continuous mDNS browse session, streaming entries
// into the peer set until ctx is canceled or the resolver errors.
func (b *Browser) scanOnce(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("discovery: create resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	go func() {
		for entry := range entries {
			b.apply(entry)
		}
	}()

	b.log.Debug("discovery: starting mdns browse", "service", ServiceType)
	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return fmt.Errorf("discovery: browse: %w", err)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (b *Browser) apply(entry *zeroconf.ServiceEntry) {
	props := make(map[string]string, len(entry.Text))
	for _, txt := range entry.Text {
		k, v := splitTXT(txt)
		props[k] = v
	}
	peer := Peer{
		Instance:   entry.Instance,
		Hostname:   entry.HostName,
		AddrsV4:    entry.AddrIPv4,
		AddrsV6:    entry.AddrIPv6,
		Port:       entry.Port,
		Properties: props,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(peer.AddrsV4) == 0 && len(peer.AddrsV6) == 0 {
		// A zero-address record is zeroconf's convention for a departing
		// advertisement (TTL 0); treat it as a removal.
		delete(b.peers, peer.Instance)
		b.log.Info("discovery: peer departed", "instance", peer.Instance)
		return
	}
	if _, existed := b.peers[peer.Instance]; !existed {
		b.log.Info("discovery: peer found", "instance", peer.Instance, "host", peer.Hostname)
	}
	b.peers[peer.Instance] = peer
}

func splitTXT(txt string) (string, string) {
	for i := 0; i < len(txt); i++ {
		if txt[i] == '=' {
			return txt[:i], txt[i+1:]
		}
	}
	return txt, ""
}
