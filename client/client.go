// Package client provides the ctxpipe developer SDK: attach an execution
// context to a relay hub, notify other contexts by role and read the
// messages addressed to this one from a channel.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/SWAI-Ltd/ctxpipe/internal/mesh"
	"github.com/SWAI-Ltd/ctxpipe/internal/proto"
)

const (
	// DefaultMessageBuffer is the buffer size for the Messages() channel.
	DefaultMessageBuffer = 64
)

// ErrClosed is returned when using a client after Close.
var ErrClosed = errors.New("client closed")

// Config configures the client.
type Config struct {
	// Role is this context's identity (e.g. client.RolePopup).
	Role string
	// HubAddr is the hub address (e.g. "localhost:6121"). Empty browses mDNS.
	HubAddr string
	// ListenAddr makes this client a hub as well (e.g. ":6121").
	ListenAddr string
	// DisableDiscovery disables mDNS (set true in containers).
	DisableDiscovery bool
	// PollInterval is how often an absent hub is retried; 0 uses 500ms.
	PollInterval time.Duration
	// MessageBuffer sets the capacity of Messages() channel; 0 uses DefaultMessageBuffer.
	MessageBuffer int
	// Logger receives relay diagnostics; nil uses slog.Default().
	Logger *slog.Logger
}

// Client is the developer-facing endpoint. Use Notify and read from Messages().
type Client struct {
	node   *mesh.Node
	log    *slog.Logger
	msgs   chan string
	closed bool
	mu     sync.RWMutex
}

// New creates a client and starts attaching to the hub in the background.
// Messages notified before the hub is reachable are held and delivered once
// their target is seen.
func New(ctx context.Context, cfg Config) (*Client, error) {
	buf := cfg.MessageBuffer
	if buf <= 0 {
		buf = DefaultMessageBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		log:  logger.With("role", cfg.Role),
		msgs: make(chan string, buf),
	}
	node, err := mesh.NewNode(ctx, mesh.Config{
		Role:             cfg.Role,
		Addr:             cfg.ListenAddr,
		HubAddr:          cfg.HubAddr,
		DisableDiscovery: cfg.DisableDiscovery,
		Advertise:        cfg.ListenAddr != "",
		PollInterval:     cfg.PollInterval,
		Logger:           cfg.Logger,
		OnMessage:        c.deliver,
	})
	if err != nil {
		return nil, err
	}
	c.node = node
	return c, nil
}

func (c *Client) deliver(message string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.msgs <- message:
	default:
		c.log.Warn("client: message buffer full, dropping")
	}
}

// Notify sends message to the context with role target ("" for all).
// An empty message sends a default greeting line.
func (c *Client) Notify(target, message string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	c.node.Notify(target, message)
	return nil
}

// Messages returns the channel of received messages. Read until the client is closed.
func (c *Client) Messages() <-chan string {
	return c.msgs
}

// Role returns this client's identity.
func (c *Client) Role() string {
	return c.node.Role()
}

// Addr returns the local QUIC listen address, or "" when not a hub.
func (c *Client) Addr() string {
	return c.node.Addr()
}

// Close shuts down the client and closes the Messages() channel.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	err := c.node.Close()
	close(c.msgs)
	return err
}

// Role constants for convenience (re-export from proto).
const (
	RoleBackground    = proto.RoleBackground
	RoleContentScript = proto.RoleContentScript
	RolePopup         = proto.RolePopup
	RoleSidePanel     = proto.RoleSidePanel
	RoleOptions       = proto.RoleOptions
	RoleDevtools      = proto.RoleDevtools
	RoleUserScript    = proto.RoleUserScript
)
