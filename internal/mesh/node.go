package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SWAI-Ltd/ctxpipe/internal/discovery"
	"github.com/SWAI-Ltd/ctxpipe/internal/pipe"
	"github.com/SWAI-Ltd/ctxpipe/internal/proto"
	"github.com/SWAI-Ltd/ctxpipe/internal/transport"
)

const (
	// DefaultPort is where a hub listens unless told otherwise
	DefaultPort = 6121

	dialTimeout = 2 * time.Second
	inboxSize   = 1024
)

// Node is one execution context on the relay mesh: a pipe for its role,
// wired to QUIC links (accepted as a hub, dialed as a spoke, or both)
type Node struct {
	cfg   Config
	log   *slog.Logger
	pipe  *pipe.Pipe[string]
	links *linkSet
	inbox chan pipe.Payload[string]

	server *transport.Server
	disc   *discovery.Discovery

	wireOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Config for Node
type Config struct {
	Role             string        // one of proto.KnownRoles
	Addr             string        // listen address; empty disables hub mode
	HubAddr          string        // hub to dial; empty browses mDNS unless discovery is disabled
	DisableDiscovery bool          // set true to skip mDNS (e.g. in containers)
	Advertise        bool          // publish the listener over mDNS
	PollInterval     time.Duration // hub retry interval, default discovery.DefaultPollInterval
	OnMessage        func(message string)
	Logger           *slog.Logger
}

// NewNode creates a node and starts its listener and hub dialer as configured
func NewNode(ctx context.Context, cfg Config) (*Node, error) {
	if err := proto.ValidateRole(cfg.Role); err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = discovery.DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("role", cfg.Role)

	n := &Node{
		cfg:   cfg,
		log:   logger,
		pipe:  pipe.New[string](cfg.Role, pipe.WithLogger(logger)),
		links: newLinkSet(),
		inbox: make(chan pipe.Payload[string], inboxSize),
	}
	n.ctx, n.cancel = context.WithCancel(ctx)

	n.pipe.OnPayload(func(pl pipe.Payload[string]) {
		n.log.Debug("payload", "uuid", pl.UUID, "from", pl.From, "target", pl.Target, "passing", pl.Passing)
	})
	if cfg.OnMessage != nil {
		n.pipe.OnMessage(cfg.OnMessage)
	}

	n.wg.Add(1)
	go n.inboxLoop()

	if cfg.Addr != "" {
		server, err := transport.ListenQUICWithHandler(n.ctx, cfg.Addr, n.handleConn)
		if err != nil {
			n.cancel()
			n.wg.Wait()
			return nil, err
		}
		n.server = server
		n.log.Info("hub listening", "addr", server.LocalAddr())
		// a hub is reachable as soon as it listens
		n.wire()
	}

	if n.usesDiscovery() {
		port := DefaultPort
		if n.server != nil {
			if _, p, err := discovery.ParseAddr(n.server.LocalAddr()); err == nil && p > 0 {
				port = p
			}
		}
		disc, err := discovery.New(discovery.Config{
			Name:      cfg.Role,
			Port:      port,
			Advertise: cfg.Advertise && n.server != nil,
		})
		if err != nil {
			n.Close()
			return nil, err
		}
		n.disc = disc
	}

	if n.dials() {
		n.wg.Add(1)
		go n.hubLoop()
	}
	return n, nil
}

// dials reports whether this node connects out to a hub
func (n *Node) dials() bool {
	return n.cfg.HubAddr != "" || (n.server == nil && !n.cfg.DisableDiscovery)
}

// usesDiscovery reports whether mDNS is needed: to publish the listener, or
// to find a hub that was not given by address
func (n *Node) usesDiscovery() bool {
	if n.cfg.DisableDiscovery {
		return false
	}
	return (n.cfg.Advertise && n.server != nil) || (n.cfg.HubAddr == "" && n.dials())
}

// wire registers the pipe's transport hook. It runs once per node so the
// pipe greets its neighbours exactly once.
func (n *Node) wire() {
	n.wireOnce.Do(func() {
		n.pipe.OnSend(n.broadcast)
	})
}

// broadcast writes pl to every live link
func (n *Node) broadcast(pl pipe.Payload[string]) {
	f, err := proto.NewPayloadFrame(pl)
	if err != nil {
		n.log.Error("encode payload", "err", err, "uuid", pl.UUID)
		return
	}
	count := 0
	for _, l := range n.links.snapshot() {
		if err := l.conn.SendFrame(f); err != nil {
			n.log.Error("failed to forward to link", "err", err, "peer", l.role, "addr", l.conn.RemoteAddr())
			continue
		}
		count++
	}
	n.log.Debug("sent", "uuid", pl.UUID, "links", count)
}

// inboxLoop is the single owner of inbound delivery: every link funnels
// payloads here so Listen runs one payload at a time, in arrival order
func (n *Node) inboxLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case pl := <-n.inbox:
			n.pipe.Listen(pl)
		}
	}
}

// hubLoop polls for the hub, attaches to it and re-attaches after a drop
func (n *Node) hubLoop() {
	defer n.wg.Done()
	for {
		conn, err := discovery.Poll(n.ctx, n.cfg.PollInterval, n.dialHub)
		if err != nil {
			return
		}
		n.log.Info("connected to hub", "addr", conn.RemoteAddr())
		n.links.add(conn, "")
		n.wire()
		n.recvLoop(conn)
		n.links.remove(conn)
		conn.Close()
		if n.ctx.Err() != nil {
			return
		}
		n.log.Info("hub link lost, retrying")
	}
}

// dialHub makes one attempt to reach the hub. Not finding it is expected.
func (n *Node) dialHub() (*transport.Conn, bool) {
	addr := n.cfg.HubAddr
	if addr == "" {
		if n.disc == nil {
			return nil, false
		}
		var ok bool
		if addr, ok = n.disc.Lookup(); !ok {
			return nil, false
		}
	}
	ctx, cancel := context.WithTimeout(n.ctx, dialTimeout)
	defer cancel()
	conn, err := transport.DialQUIC(ctx, addr)
	if err != nil {
		n.log.Debug("hub not reachable yet", "addr", addr, "err", err)
		return nil, false
	}
	hello := &proto.Frame{Type: proto.FrameTypeHello, Hello: &proto.HelloFrame{Role: n.cfg.Role}}
	if err := conn.SendFrame(hello); err != nil {
		conn.Close()
		return nil, false
	}
	return conn, true
}

// recvLoop decodes frames from c until it fails, queueing payloads for the inbox
func (n *Node) recvLoop(c *transport.Conn) {
	var f proto.Frame
	for {
		if err := c.RecvFrame(&f); err != nil {
			n.log.Debug("link recv ended", "err", err, "addr", c.RemoteAddr())
			return
		}
		switch f.Type {
		case proto.FrameTypeHello:
			if h := f.Hello; h != nil {
				n.links.setRole(c, h.Role)
				n.log.Info("link opened", "peer", h.Role, "addr", c.RemoteAddr())
			}
		case proto.FrameTypePayload:
			pl, err := proto.DecodePayload(f.Payload)
			if err != nil {
				n.log.Warn("dropping malformed payload", "err", err, "addr", c.RemoteAddr())
				c.SendFrame(&proto.Frame{Type: proto.FrameTypeError, Error: &proto.ErrorFrame{
					Code: "PAYLOAD_INVALID", Message: err.Error(),
				}})
				continue
			}
			select {
			case n.inbox <- pl:
			case <-n.ctx.Done():
				return
			}
		case proto.FrameTypeError:
			if e := f.Error; e != nil {
				n.log.Warn("peer reported error", "code", e.Code, "msg", e.Message)
			}
		}
	}
}

// Notify posts message to target ("" broadcasts). An empty message is
// replaced by a greeting line naming both ends.
func (n *Node) Notify(target, message string) pipe.Payload[string] {
	if message == "" {
		message = fmt.Sprintf("Hello Message from %s to %s", n.cfg.Role, target)
	}
	return n.pipe.PostMessage(message, target)
}

// OnMessage registers an additional message listener
func (n *Node) OnMessage(cb func(message string)) pipe.ListenerID {
	return n.pipe.OnMessage(cb)
}

// Pipe exposes the node's relay state for diagnostics
func (n *Node) Pipe() *pipe.Pipe[string] {
	return n.pipe
}

// Role returns the node's identity
func (n *Node) Role() string {
	return n.cfg.Role
}

// Addr returns the local QUIC listen address, or "" for a spoke
func (n *Node) Addr() string {
	if n.server == nil {
		return ""
	}
	return n.server.LocalAddr()
}

// Links returns the peer role of every live link
func (n *Node) Links() []string {
	var roles []string
	for _, l := range n.links.snapshot() {
		roles = append(roles, l.role)
	}
	return roles
}

// Close shuts down the node
func (n *Node) Close() error {
	n.cancel()
	if n.server != nil && n.server.Listener != nil {
		_ = n.server.Close()
	}
	for _, l := range n.links.snapshot() {
		l.conn.Close()
	}
	if n.disc != nil {
		n.disc.Close()
	}
	n.wg.Wait()
	return nil
}
