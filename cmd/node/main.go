package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/SWAI-Ltd/ctxpipe/internal/mesh"
	"github.com/SWAI-Ltd/ctxpipe/internal/proto"
)

func main() {
	hubAddr := flag.String("hub", "localhost:6121", "hub address (empty to browse mDNS)")
	noDiscovery := flag.Bool("no-discovery", false, "disable mDNS (use with -hub or in containers)")
	role := flag.String("role", proto.RolePopup, "endpoint role: "+strings.Join(proto.KnownRoles(), " | "))
	notify := flag.String("notify", "", "role to notify once started (empty to only listen)")
	message := flag.String("message", "", "message text (default: a greeting line)")
	verbose := flag.Bool("v", false, "log every payload")
	flag.Parse()

	if *verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	node, err := mesh.NewNode(ctx, mesh.Config{
		Role:             *role,
		HubAddr:          *hubAddr,
		DisableDiscovery: *noDiscovery,
		OnMessage: func(m string) {
			slog.Info("message received", "role", *role, "message", m)
		},
	})
	if err != nil {
		slog.Error("failed to start node", "err", err)
		fmt.Println("usage: node -role POPUP [-hub localhost:6121] [-notify BACKGROUND] [-message text]")
		os.Exit(1)
	}
	defer node.Close()
	slog.Info("node started", "role", *role)

	if *notify != "" {
		if err := proto.ValidateRole(*notify); err != nil {
			slog.Error("invalid -notify", "err", err)
			os.Exit(1)
		}
		pl := node.Notify(*notify, *message)
		slog.Info("notified", "target", *notify, "uuid", pl.UUID)
	}
	<-ctx.Done()
}
