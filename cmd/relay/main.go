// relay — signaling relay server.
//
// It issues bearer tokens, keeps one SSE or WebSocket event stream per user
// and forwards call signals between users. Media never passes through it.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/sajacaros/conference-chat/internal/config"
	"github.com/sajacaros/conference-chat/internal/relay"
	"github.com/sajacaros/conference-chat/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	configPath := flag.String("config", "", "Path to a TOML config file ([relay] section)")
	listen := flag.String("listen", "", "Listen address (e.g. :8080)")
	heartbeat := flag.Duration("heartbeat", 0, "Ping interval for event streams")
	origins := flag.String("origins", "", "Comma-separated CORS origins")
	callsPath := flag.String("calls", "", "SQLite file for call records (default: in memory)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Relay.Listen = *listen
	}
	if *heartbeat > 0 {
		cfg.Relay.Heartbeat = *heartbeat
	}
	if *origins != "" {
		cfg.Relay.AllowedOrigins = strings.Split(*origins, ",")
	}
	if *callsPath != "" {
		cfg.Relay.CallsPath = *callsPath
	}
	if *debugMode || cfg.Debug {
		util.EnableDebug()
	}
	if err := cfg.ValidateRelay(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	pterm.Info.Println(fmt.Sprintf("relay — v%s", version))
	pterm.Println()

	var calls relay.CallStore
	if cfg.Relay.CallsPath != "" {
		db, err := relay.OpenCallStore(cfg.Relay.CallsPath)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		defer db.Close()
		calls = db
		util.LogInfo("call records in %s", cfg.Relay.CallsPath)
	}

	srv := relay.New(relay.Options{
		Heartbeat:      cfg.Relay.Heartbeat,
		AllowedOrigins: cfg.Relay.AllowedOrigins,
		Calls:          calls,
	})
	err = srv.ListenAndServe(ctx, cfg.Relay.Listen, func(addr net.Addr) {
		util.LogSuccess("relay ready on %s (metrics at /metrics)", addr)
	})
	if err != nil {
		util.LogError("relay stopped: %v", err)
		os.Exit(1)
	}
	util.LogInfo("relay shut down")
}
