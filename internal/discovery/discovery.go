// Package discovery implements LAN peer discovery using mDNS/DNS-SD
// service advertisement and browsing.
//
// Grounded on github.com/libp2p/zeroconf/v2, a direct dependency of the
// retrieved shurlinet-shurli example (and an indirect dependency shared by
// Klingon-tech-klingnet and fission-codes-car-mirror), and on
// petervdpas-goop2's mDNS notifee pattern for peer-appeared bookkeeping.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/zeroconf/v2"
)

const (
	respawnDelay = 3 * time.Second
	// browsePeriod is how often the sweep goroutine checks for peers that
	// have stopped refreshing their mDNS record.
	browsePeriod = 10 * time.Second
	// peerExpiry is how long a peer can go without a fresh entry before it
	// is considered gone and reported as disappeared.
	peerExpiry     = 3 * browsePeriod
	instancePrefix = "relaymesh-"
)

type seenEntry struct {
	info     PeerInfo
	lastSeen time.Time
}

// PeerInfo describes one peer discovered on the LAN.
type PeerInfo struct {
	PeerID      string
	DeviceName  string
	Host        string
	Port        int
}

// Callbacks receives discovery lifecycle events.
type Callbacks struct {
	OnPeerAppeared    func(PeerInfo)
	OnPeerDisappeared func(peerID string)
}

// Discovery is the external surface the rest of the engine depends on,
// kept as an interface so a future platform-native helper implementation
// can be swapped in without touching callers.
type Discovery interface {
	Start(ctx context.Context, cb Callbacks) error
	Restart(ctx context.Context) error
	UpdateName(name string) error
	Stop() error
}

// zeroconfDiscovery is the concrete LAN implementation.
type zeroconfDiscovery struct {
	logger     *slog.Logger
	scheme     string
	nodeID     string
	deviceName string
	port       int

	mu     sync.Mutex
	server *zeroconf.Server
	cancel context.CancelFunc
	cb     Callbacks
	seen   map[string]seenEntry
}

// New returns a Discovery backed by zeroconf mDNS advertisement/browsing.
func New(logger *slog.Logger, scheme, nodeID, deviceName string, port int) Discovery {
	return &zeroconfDiscovery{
		logger:     logger.With(slog.String("component", "discovery")),
		scheme:     scheme,
		nodeID:     nodeID,
		deviceName: deviceName,
		port:       port,
		seen:       make(map[string]seenEntry),
	}
}

func (d *zeroconfDiscovery) serviceType() string {
	return fmt.Sprintf("_%s._tcp", d.scheme)
}

// Start publishes this node's record and begins browsing for peers.
func (d *zeroconfDiscovery) Start(ctx context.Context, cb Callbacks) error {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()

	if err := d.publish(); err != nil {
		return fmt.Errorf("discovery: publish: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	go d.superviseBrowse(runCtx)
	go d.sweepExpired(runCtx)

	return nil
}

// sweepExpired periodically evicts peers whose mDNS record has not been
// refreshed within peerExpiry and notifies OnPeerDisappeared.
func (d *zeroconfDiscovery) sweepExpired(ctx context.Context) {
	ticker := time.NewTicker(browsePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		var expired []string
		now := time.Now()
		for id, e := range d.seen {
			if now.Sub(e.lastSeen) > peerExpiry {
				expired = append(expired, id)
				delete(d.seen, id)
			}
		}
		cb := d.cb
		d.mu.Unlock()

		for _, id := range expired {
			if cb.OnPeerDisappeared != nil {
				cb.OnPeerDisappeared(id)
			}
		}
	}
}

func (d *zeroconfDiscovery) publish() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.server != nil {
		d.server.Shutdown()
		d.server = nil
	}

	txt := []string{"id=" + d.nodeID, "deviceName=" + d.deviceName}

	server, err := zeroconf.Register(instancePrefix+d.nodeID, d.serviceType(), "local.", d.port, txt, nil)
	if err != nil {
		return err
	}

	d.server = server

	return nil
}

// superviseBrowse runs the browse loop, respawning it respawnDelay after
// any unexpected return, the same crash-respawn supervision shape used
// for any other long-lived background loop in this codebase.
func (d *zeroconfDiscovery) superviseBrowse(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := d.browseOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			d.logger.Warn("discovery helper crashed, respawning", slog.Any("error", err), slog.Duration("after", respawnDelay))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(respawnDelay):
		}
	}
}

func (d *zeroconfDiscovery) browseOnce(ctx context.Context) error {
	entries := make(chan *zeroconf.ServiceEntry, 16)

	go func() {
		for entry := range entries {
			d.handleEntry(entry)
		}
	}()

	err := zeroconf.Browse(ctx, d.serviceType(), "local.", entries)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("browse: %w", err)
	}

	return nil
}

func (d *zeroconfDiscovery) handleEntry(entry *zeroconf.ServiceEntry) {
	var peerID, deviceName string
	for _, kv := range entry.Text {
		switch {
		case len(kv) > 3 && kv[:3] == "id=":
			peerID = kv[3:]
		case len(kv) > 11 && kv[:11] == "deviceName=":
			deviceName = kv[11:]
		}
	}

	if peerID == "" || peerID == d.nodeID {
		return // own record or malformed
	}

	host := ""
	if len(entry.AddrIPv4) > 0 {
		host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		host = entry.AddrIPv6[0].String()
	}
	if host == "" {
		return
	}

	info := PeerInfo{PeerID: peerID, DeviceName: deviceName, Host: host, Port: entry.Port}

	d.mu.Lock()
	prev, existed := d.seen[peerID]
	d.seen[peerID] = seenEntry{info: info, lastSeen: time.Now()}
	cb := d.cb
	d.mu.Unlock()

	if existed && prev.info == info {
		return // duplicate, just refreshed the timestamp
	}

	if cb.OnPeerAppeared != nil {
		cb.OnPeerAppeared(info)
	}
}

// Restart tears down and re-establishes both publish and browse. Used
// after a local identity change (device name, port) or after detecting
// prolonged multicast failure.
func (d *zeroconfDiscovery) Restart(ctx context.Context) error {
	if err := d.Stop(); err != nil {
		d.logger.Warn("discovery restart: stop error, continuing", slog.Any("error", err))
	}

	d.mu.Lock()
	d.seen = make(map[string]seenEntry)
	cb := d.cb
	d.mu.Unlock()

	return d.Start(ctx, cb)
}

// UpdateName republishes the service record with a new device name.
func (d *zeroconfDiscovery) UpdateName(name string) error {
	d.mu.Lock()
	d.deviceName = name
	d.mu.Unlock()

	return d.publish()
}

// Stop shuts down both the publisher and the browse loop.
func (d *zeroconfDiscovery) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}

	if d.server != nil {
		d.server.Shutdown()
		d.server = nil
	}

	return nil
}
