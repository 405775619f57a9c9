// Command wip-query runs the Query Server: it answers area-code weather
// queries from the document store and keeps the store fresh on a schedule.
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
	"github.com/wxproto/wip/internal/packet"
	"github.com/wxproto/wip/internal/query"
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
		fmt.Printf("wip-query %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	qcfg := cfg.Query

	if err := log.InitWithFile(*debug || qcfg.Debug, qcfg.LogFile); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := query.NewRedisStore(ctx, qcfg.RedisAddr, qcfg.RedisPassword, qcfg.RedisDB)
	if err != nil {
		log.Errorf("Failed to connect to document store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	// The pull pipeline that feeds the document store runs out of process;
	// the scheduler still tracks skip-list retries around it.
	srv := query.New(qcfg, store, nil, log.GetSugaredLogger())

	sched := query.NewScheduler(qcfg, query.NoopRefresher{}, log.GetSugaredLogger())
	if err := sched.Start(ctx); err != nil {
		log.Errorf("Failed to start refresh scheduler: %v", err)
		os.Exit(1)
	}

	d, err := server.New(server.Config{
		Name:            "query-server",
		ListenAddr:      qcfg.Addr(),
		MaxWorkers:      qcfg.MaxWorkers,
		BufferSize:      qcfg.UDPBufferSize,
		ProtocolVersion: uint8(qcfg.ProtocolVersion),
		AuthEnabled:     qcfg.AuthEnabled,
		AuthTypes:       []packet.Type{packet.TypeQueryRequest},
		Passphrase:      qcfg.Passphrase,
		HashAlgorithm:   qcfg.HashAlgorithm,
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
