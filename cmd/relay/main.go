package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/SWAI-Ltd/ctxpipe/internal/mesh"
	"github.com/SWAI-Ltd/ctxpipe/internal/proto"
)

func main() {
	addr := flag.String("addr", fmt.Sprintf(":%d", mesh.DefaultPort), "listen address")
	role := flag.String("role", proto.RoleBackground, "hub role")
	noDiscovery := flag.Bool("no-discovery", false, "do not advertise over mDNS")
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

	hub, err := mesh.NewNode(ctx, mesh.Config{
		Role:             *role,
		Addr:             *addr,
		Advertise:        true,
		DisableDiscovery: *noDiscovery,
		OnMessage: func(m string) {
			slog.Info("message received", "role", *role, "message", m)
		},
	})
	if err != nil {
		slog.Error("failed to start relay", "err", err)
		os.Exit(1)
	}
	defer hub.Close()

	<-ctx.Done()
	slog.Info("relay shutting down")
}
