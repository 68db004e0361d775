package mesh

import (
	"sync"

	"github.com/SWAI-Ltd/ctxpipe/internal/proto"
	"github.com/SWAI-Ltd/ctxpipe/internal/transport"
)

type link struct {
	conn *transport.Conn
	role string
}

// linkSet is the set of live neighbours a node floods to
type linkSet struct {
	mu    sync.RWMutex
	links map[*transport.Conn]*link
}

func newLinkSet() *linkSet {
	return &linkSet{links: make(map[*transport.Conn]*link)}
}

func (s *linkSet) add(c *transport.Conn, role string) {
	s.mu.Lock()
	s.links[c] = &link{conn: c, role: role}
	s.mu.Unlock()
}

func (s *linkSet) setRole(c *transport.Conn, role string) {
	s.mu.Lock()
	if l, ok := s.links[c]; ok {
		l.role = role
	}
	s.mu.Unlock()
}

func (s *linkSet) remove(c *transport.Conn) {
	s.mu.Lock()
	delete(s.links, c)
	s.mu.Unlock()
}

func (s *linkSet) snapshot() []link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]link, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, *l)
	}
	return out
}

// handleConn serves one accepted link: every neighbour that dials the hub
// receives all of its traffic and feeds it everything the neighbour sends
func (n *Node) handleConn(c *transport.Conn) {
	n.links.add(c, "")
	defer func() {
		n.links.remove(c)
		c.Close()
		n.log.Info("link closed", "addr", c.RemoteAddr())
	}()
	hello := &proto.Frame{Type: proto.FrameTypeHello, Hello: &proto.HelloFrame{Role: n.cfg.Role}}
	if err := c.SendFrame(hello); err != nil {
		n.log.Error("hello failed", "err", err, "addr", c.RemoteAddr())
		return
	}
	n.recvLoop(c)
}
