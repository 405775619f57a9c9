// Command wip-report runs the Report Server: it accepts sensor reports and
// appends them to per-area JSON logs.
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
	"github.com/wxproto/wip/internal/report"
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
		fmt.Printf("wip-report %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	rcfg := cfg.Report

	if err := log.InitWithFile(*debug || rcfg.Debug, rcfg.LogFile); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := report.NewFileStore(rcfg.ReportDir, rcfg.MaxReportsPerArea)
	if err != nil {
		log.Errorf("Failed to open report store: %v", err)
		os.Exit(1)
	}

	srv := report.New(rcfg, store, log.GetSugaredLogger())

	d, err := server.New(server.Config{
		Name:            "report-server",
		ListenAddr:      rcfg.Addr(),
		MaxWorkers:      rcfg.MaxWorkers,
		BufferSize:      rcfg.UDPBufferSize,
		ProtocolVersion: uint8(rcfg.ProtocolVersion),
		AuthEnabled:     rcfg.AuthEnabled,
		Passphrase:      rcfg.Passphrase,
		HashAlgorithm:   rcfg.HashAlgorithm,
		StatusAddr:      *statusAddr,
	}, srv, log.GetSugaredLogger())
	if err != nil {
		log.Errorf("Failed to start dispatcher: %v", err)
		os.Exit(1)
	}

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
	log.Info("shutdown complete")
}
