// Command wip-weather runs the Weather Server: the client-facing UDP proxy
// that routes packets to the Location, Query, and Report servers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/wxproto/wip/internal/config"
	"github.com/wxproto/wip/internal/log"
	"github.com/wxproto/wip/internal/proxy"
	"github.com/wxproto/wip/internal/server"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "", "Path to YAML configuration file (optional; env vars override)")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	statusAddr := flag.String("status-addr", "", "Optional HTTP status listen address, e.g. 127.0.0.1:8110")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("wip-weather %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	wcfg := cfg.Weather

	if err := log.InitWithFile(*debug || wcfg.Debug, wcfg.LogFile); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	p, err := proxy.New(wcfg, log.GetSugaredLogger())
	if err != nil {
		log.Errorf("Failed to create weather server: %v", err)
		os.Exit(1)
	}

	d, err := server.New(server.Config{
		Name:            "weather-server",
		ListenAddr:      wcfg.Addr(),
		MaxWorkers:      wcfg.MaxWorkers,
		BufferSize:      wcfg.UDPBufferSize,
		ProtocolVersion: uint8(wcfg.ProtocolVersion),
		AuthEnabled:     wcfg.AuthEnabled,
		Passphrase:      wcfg.Passphrase,
		HashAlgorithm:   wcfg.HashAlgorithm,
		StatusAddr:      *statusAddr,
	}, p, log.GetSugaredLogger())
	if err != nil {
		log.Errorf("Failed to start dispatcher: %v", err)
		os.Exit(1)
	}
	p.AttachDispatcher(d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			log.Errorf("dispatcher error: %v", err)
		}
	}

	p.SaveCaches()
	log.Info("shutdown complete")
}
