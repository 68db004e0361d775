// Package discovery locates relay hubs: an mDNS advertiser/browser for the
// local network and a fixed-interval poller for endpoints that may not exist
// yet when a context starts.
package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/betamos/zeroconf"
)

const (
	ServiceType = "_ctxpipe._udp"
	Domain      = "local."
)

// Peer represents a hub discovered on the local network
type Peer struct {
	Name string
	Addr string
	Port int
}

// Config for mDNS discovery
type Config struct {
	// Name is the instance name published and excluded from results.
	Name string
	// Port is the advertised QUIC port.
	Port int
	// Advertise publishes this process as a hub.
	Advertise bool
	// OnPeer is called for every hub seen, possibly more than once.
	OnPeer func(Peer)
}

// Discovery handles mDNS service discovery for relay hubs
type Discovery struct {
	client *zeroconf.Client
	name   string
	onPeer func(Peer)

	mu    sync.Mutex
	peers map[string]Peer // name -> peer
}

// New starts browsing for hubs and, if cfg.Advertise is set, publishes this one
func New(cfg Config) (*Discovery, error) {
	d := &Discovery{
		name:   cfg.Name,
		onPeer: cfg.OnPeer,
		peers:  make(map[string]Peer),
	}

	svcType := zeroconf.NewType(ServiceType)
	b := zeroconf.New().Browse(d.handleEvent, svcType)
	if cfg.Advertise {
		port16 := uint16(cfg.Port)
		if cfg.Port <= 0 || cfg.Port > 65535 {
			port16 = 6121
		}
		b = b.Publish(zeroconf.NewService(svcType, cfg.Name, port16))
	}
	client, err := b.Open()
	if err != nil {
		return nil, fmt.Errorf("zeroconf: %w", err)
	}
	d.client = client
	return d, nil
}

func (d *Discovery) handleEvent(e zeroconf.Event) {
	if e.Name == d.name {
		return
	}
	var addrs []string
	for _, a := range e.Addrs {
		if a.IsValid() {
			addrs = append(addrs, net.JoinHostPort(a.String(), strconv.Itoa(int(e.Port))))
		}
	}
	if len(addrs) == 0 {
		return
	}
	// prefer IPv4
	addr := addrs[0]
	for _, a := range addrs {
		if strings.Count(a, ":") < 2 {
			addr = a
			break
		}
	}

	peer := Peer{Name: e.Name, Addr: addr, Port: int(e.Port)}
	d.mu.Lock()
	d.peers[peer.Name] = peer
	d.mu.Unlock()
	slog.Debug("hub discovered", "name", peer.Name, "addr", peer.Addr)
	if d.onPeer != nil {
		d.onPeer(peer)
	}
}

// Peers returns the hubs seen so far, ordered by name
func (d *Discovery) Peers() []Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the address of the first known hub. It has the shape Poll
// expects, so a caller can wait for a hub to appear.
func (d *Discovery) Lookup() (string, bool) {
	peers := d.Peers()
	if len(peers) == 0 {
		return "", false
	}
	return peers[0].Addr, true
}

// Close stops discovery
func (d *Discovery) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// ParseAddr splits "host:port"
func ParseAddr(s string) (host string, port int, err error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
