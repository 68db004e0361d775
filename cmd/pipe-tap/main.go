// pipe-tap is a diagnostics CLI: it joins the relay as DEVTOOLS and prints
// every payload flowing past it, flagging traffic that looks malformed.
// Usage: go run ./cmd/pipe-tap -hub localhost:6121
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/SWAI-Ltd/ctxpipe/internal/mesh"
	"github.com/SWAI-Ltd/ctxpipe/internal/pipe"
	"github.com/SWAI-Ltd/ctxpipe/internal/proto"
)

func main() {
	hubAddr := flag.String("hub", "localhost:6121", "hub address (empty to browse mDNS)")
	role := flag.String("role", proto.RoleDevtools, "role to join as")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigCh; cancel() }()

	node, err := mesh.NewNode(ctx, mesh.Config{
		Role:             *role,
		HubAddr:          *hubAddr,
		DisableDiscovery: *hubAddr != "",
	})
	if err != nil {
		log.Fatalf("join failed: %v", err)
	}
	defer node.Close()

	var okCount, failCount atomic.Int64
	node.Pipe().OnPayload(func(pl pipe.Payload[string]) {
		ts := time.Now().Format("15:04:05")
		if err := checkPayload(pl); err != nil {
			failCount.Add(1)
			fmt.Printf("[%s] FAIL %s: %v\n", ts, pl.UUID, err)
			return
		}
		okCount.Add(1)
		kind := "message"
		if pl.Internal {
			kind = pl.Control
		}
		target := pl.Target
		if target == "" {
			target = "*"
		}
		fmt.Printf("[%s] OK   %s -> %s (%s) via [%s] %q\n", ts, pl.From, target, kind,
			strings.Join(pl.Passing, " > "), pl.Message)
	})
	fmt.Printf("Tapping relay as %s. Ctrl-C to stop.\n", *role)

	<-ctx.Done()
	fmt.Printf("\nDone. Valid: %d, Invalid: %d\n", okCount.Load(), failCount.Load())
}

// checkPayload flags relay traffic that is well formed on the wire but
// inconsistent: a trail that does not start at the origin, or repeats a hop.
func checkPayload(pl pipe.Payload[string]) error {
	if len(pl.Passing) > 0 && pl.Passing[0] != pl.From {
		return fmt.Errorf("trail %v does not start at %s", pl.Passing, pl.From)
	}
	seen := make(map[string]bool, len(pl.Passing))
	for _, hop := range pl.Passing {
		if seen[hop] {
			return fmt.Errorf("trail %v loops through %s", pl.Passing, hop)
		}
		seen[hop] = true
	}
	if !strings.HasPrefix(pl.UUID, pl.From+"-") {
		return fmt.Errorf("uuid %q not minted by %s", pl.UUID, pl.From)
	}
	return nil
}
