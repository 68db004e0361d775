package discovery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPollReturnsOnceFound(t *testing.T) {
	var calls int
	addr, err := Poll(context.Background(), 5*time.Millisecond, func() (string, bool) {
		calls++
		return "127.0.0.1:6121", calls == 3
	})
	if err != nil {
		t.Fatal(err)
	}
	if addr != "127.0.0.1:6121" {
		t.Fatalf("got %q", addr)
	}
	if calls != 3 {
		t.Fatalf("locate called %d times, want 3", calls)
	}
}

func TestPollImmediateHit(t *testing.T) {
	start := time.Now()
	_, err := Poll(context.Background(), time.Hour, func() (int, bool) { return 1, true })
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Poll waited for an interval before the first attempt")
	}
}

func TestPollStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := Poll(ctx, 5*time.Millisecond, func() (string, bool) { return "", false })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestLookupWithoutPeers(t *testing.T) {
	d := &Discovery{peers: make(map[string]Peer)}
	if _, ok := d.Lookup(); ok {
		t.Fatal("Lookup found a hub in an empty table")
	}
	d.peers["b"] = Peer{Name: "b", Addr: "10.0.0.2:6121"}
	d.peers["a"] = Peer{Name: "a", Addr: "10.0.0.1:6121"}
	if addr, ok := d.Lookup(); !ok || addr != "10.0.0.1:6121" {
		t.Fatalf("Lookup = %q, %v", addr, ok)
	}
}

func TestParseAddr(t *testing.T) {
	host, port, err := ParseAddr("[::1]:6121")
	if err != nil {
		t.Fatal(err)
	}
	if host != "::1" || port != 6121 {
		t.Fatalf("got %s %d", host, port)
	}
	if _, _, err := ParseAddr("nope"); err == nil {
		t.Fatal("expected error")
	}
}
