// Command wip-location runs the Location Server: it resolves client
// coordinates to 6-digit area codes through a PostGIS point-in-polygon query.
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
	"github.com/wxproto/wip/internal/location"
	"github.com/wxproto/wip/internal/log"
	"github.com/wxproto/wip/internal/packet"
	"github.com/wxproto/wip/internal/server"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "", "Path to YAML configuration file (optional; env vars override)")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	statusAddr := flag.String("status-addr", "", "Optional HTTP status listen address")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("wip-location %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	lcfg := cfg.Location

	if err := log.InitWithFile(*debug || lcfg.Debug, lcfg.LogFile); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := location.NewPostGISStore(ctx, lcfg.DatabaseDSN, lcfg.DatabaseMinConns, lcfg.DatabaseMaxConns)
	if err != nil {
		log.Errorf("Failed to connect to geometry store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	srv := location.New(lcfg, store, log.GetSugaredLogger())

	d, err := server.New(server.Config{
		Name:            "location-server",
		ListenAddr:      lcfg.Addr(),
		MaxWorkers:      lcfg.MaxWorkers,
		BufferSize:      lcfg.UDPBufferSize,
		ProtocolVersion: uint8(lcfg.ProtocolVersion),
		AuthEnabled:     lcfg.AuthEnabled,
		AuthTypes:       []packet.Type{packet.TypeLocationRequest},
		Passphrase:      lcfg.Passphrase,
		HashAlgorithm:   lcfg.HashAlgorithm,
		StatusAddr:      *statusAddr,
	}, srv, log.GetSugaredLogger())
	if err != nil {
		log.Errorf("Failed to start dispatcher: %v", err)
		os.Exit(1)
	}

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
	log.Info("shutdown complete")
}
