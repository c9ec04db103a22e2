package discovery

import (
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/libp2p/zeroconf/v2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServiceType(t *testing.T) {
	d := New(testLogger(), "relaymesh", "node-a", "Laptop", 7777).(*zeroconfDiscovery)

	if got, want := d.serviceType(), "_relaymesh._tcp"; got != want {
		t.Errorf("serviceType() = %q, want %q", got, want)
	}
}

func TestHandleEntryIgnoresOwnRecord(t *testing.T) {
	d := New(testLogger(), "relaymesh", "node-a", "Laptop", 7777).(*zeroconfDiscovery)

	var called bool
	d.cb = Callbacks{OnPeerAppeared: func(PeerInfo) { called = true }}

	entry := &zeroconf.ServiceEntry{}
	entry.Text = []string{"id=node-a", "deviceName=Laptop"}
	entry.Port = 7777

	d.handleEntry(entry)

	if called {
		t.Error("OnPeerAppeared called for own node id")
	}
}

func TestHandleEntryEmitsAppearedForNewPeer(t *testing.T) {
	d := New(testLogger(), "relaymesh", "node-a", "Laptop", 7777).(*zeroconfDiscovery)

	var got PeerInfo
	d.cb = Callbacks{OnPeerAppeared: func(p PeerInfo) { got = p }}

	entry := &zeroconf.ServiceEntry{}
	entry.Text = []string{"id=node-b", "deviceName=Phone"}
	entry.Port = 8888
	entry.AddrIPv4 = append(entry.AddrIPv4, net.ParseIP("192.168.1.50"))

	d.handleEntry(entry)

	if got.PeerID != "node-b" {
		t.Errorf("PeerID = %q, want %q", got.PeerID, "node-b")
	}
	if got.DeviceName != "Phone" {
		t.Errorf("DeviceName = %q, want %q", got.DeviceName, "Phone")
	}
	if got.Host != "192.168.1.50" {
		t.Errorf("Host = %q, want %q", got.Host, "192.168.1.50")
	}
	if got.Port != 8888 {
		t.Errorf("Port = %d, want %d", got.Port, 8888)
	}
}

func TestHandleEntryDeduplicatesIdenticalRepeats(t *testing.T) {
	d := New(testLogger(), "relaymesh", "node-a", "Laptop", 7777).(*zeroconfDiscovery)

	var calls int
	d.cb = Callbacks{OnPeerAppeared: func(PeerInfo) { calls++ }}

	entry := &zeroconf.ServiceEntry{}
	entry.Text = []string{"id=node-b", "deviceName=Phone"}
	entry.Port = 8888
	entry.AddrIPv4 = append(entry.AddrIPv4, net.ParseIP("192.168.1.50"))

	d.handleEntry(entry)
	d.handleEntry(entry)

	if calls != 1 {
		t.Errorf("OnPeerAppeared called %d times for identical repeat entries, want 1", calls)
	}
}
