package mesh

import (
	"context"
	"testing"
	"time"

	"github.com/SWAI-Ltd/ctxpipe/internal/proto"
	"github.com/SWAI-Ltd/ctxpipe/internal/transport"
)

func newTestNode(t *testing.T, cfg Config) (*Node, chan string) {
	t.Helper()
	msgs := make(chan string, 16)
	cfg.DisableDiscovery = true
	cfg.PollInterval = 20 * time.Millisecond
	cfg.OnMessage = func(m string) { msgs <- m }
	n, err := NewNode(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { n.Close() })
	return n, msgs
}

func expectMessage(t *testing.T, msgs <-chan string, want string) {
	t.Helper()
	select {
	case got := <-msgs:
		if got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func TestSpokeToHubDelivery(t *testing.T) {
	hub, hubMsgs := newTestNode(t, Config{Role: proto.RoleBackground, Addr: "127.0.0.1:0"})
	popup, _ := newTestNode(t, Config{Role: proto.RolePopup, HubAddr: hub.Addr()})

	// Posted before the link exists: parked until the hub is observed.
	popup.Notify(proto.RoleBackground, "")
	expectMessage(t, hubMsgs, "Hello Message from POPUP to BACKGROUND")
}

func TestSpokeToSpokeThroughHub(t *testing.T) {
	hub, _ := newTestNode(t, Config{Role: proto.RoleBackground, Addr: "127.0.0.1:0"})
	content, contentMsgs := newTestNode(t, Config{Role: proto.RoleContentScript, HubAddr: hub.Addr()})
	popup, _ := newTestNode(t, Config{Role: proto.RolePopup, HubAddr: hub.Addr()})

	popup.Notify(proto.RoleContentScript, "ping")
	expectMessage(t, contentMsgs, "ping")

	if !content.Pipe().Online(proto.RolePopup) {
		t.Fatal("content never observed popup")
	}
}

func TestHubToLateSpoke(t *testing.T) {
	hub, _ := newTestNode(t, Config{Role: proto.RoleBackground, Addr: "127.0.0.1:0"})
	hub.Notify(proto.RoleSidePanel, "welcome")
	if w := hub.Pipe().Waiting(); len(w) != 1 {
		t.Fatalf("hub should park the message, waiting=%d", len(w))
	}

	_, panelMsgs := newTestNode(t, Config{Role: proto.RoleSidePanel, HubAddr: hub.Addr()})
	expectMessage(t, panelMsgs, "welcome")
}

func TestNewNodeRejectsUnknownRole(t *testing.T) {
	if _, err := NewNode(context.Background(), Config{Role: "TAB", DisableDiscovery: true}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestCloseStopsHubDialer(t *testing.T) {
	// No hub listens here; the dialer must give up when the node closes.
	n, err := NewNode(context.Background(), Config{
		Role:             proto.RoleOptions,
		HubAddr:          "127.0.0.1:1",
		DisableDiscovery: true,
		PollInterval:     10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		n.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked on the hub dialer")
	}
}

func TestDiscoveryOnlyWhenNeeded(t *testing.T) {
	hub := &transport.Server{}
	cases := []struct {
		name string
		cfg  Config
		srv  *transport.Server
		want bool
	}{
		{"explicit hub", Config{HubAddr: "127.0.0.1:6121"}, nil, false},
		{"browse for hub", Config{}, nil, true},
		{"disabled", Config{DisableDiscovery: true}, nil, false},
		{"quiet hub", Config{}, hub, false},
		{"advertised hub", Config{Advertise: true}, hub, true},
		{"advertised hub dialing upstream", Config{Advertise: true, HubAddr: "127.0.0.1:6121"}, hub, true},
	}
	for _, c := range cases {
		n := &Node{cfg: c.cfg, server: c.srv}
		if got := n.usesDiscovery(); got != c.want {
			t.Fatalf("%s: usesDiscovery() = %v, want %v", c.name, got, c.want)
		}
	}
}
