// Custody Ledger Server
// Tamper-evident chain-of-custody ledger for surveillance detections
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nainya/custodyledger/internal/config"
	"github.com/nainya/custodyledger/internal/logger"
	"github.com/nainya/custodyledger/internal/metrics"
	"github.com/nainya/custodyledger/internal/server"
	"github.com/nainya/custodyledger/pkg/commitlog"
	"github.com/nainya/custodyledger/pkg/evidence"
	"github.com/nainya/custodyledger/pkg/flmodel"
	"github.com/nainya/custodyledger/pkg/ledger"
	"github.com/nainya/custodyledger/pkg/statedb"
	"github.com/nainya/custodyledger/pkg/watchlist"
)

var (
	configPath = flag.String("config", "", "YAML config file path")
	listenAddr = flag.String("listen", "", "Invoke surface listen address (overrides config)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.GetGlobalLogger().Fatal("invalid configuration").Err(err).Send()
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	logger.InitGlobalLogger(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	})
	log := logger.GetGlobalLogger()
	log.LogServerStart(cfg.Server.ListenAddr, cfg.Ledger.CommitLogPath)

	m := metrics.NewMetrics()
	db := statedb.New()
	httpLog := log.HTTPLogger()
	hub := server.NewEventHub(httpLog, m)

	engineOpts := []ledger.Option{
		ledger.WithLogger(*log.GetZerolog()),
		ledger.WithNotifier(hub),
		ledger.WithMaxRetries(cfg.Ledger.MaxRetries),
		ledger.WithCommitHook(func(contract, txID string, writes int, d time.Duration) {
			m.RecordCommit(contract, writes, d)
			log.LogTxCommit(contract, txID, writes, d)
		}),
		ledger.WithConflictHook(m.RecordConflict),
	}

	var clog *commitlog.Log
	if cfg.Ledger.CommitLogPath != "" {
		clog, err = commitlog.Open(cfg.Ledger.CommitLogPath)
		if err != nil {
			log.Fatal("failed to open commit log").Err(err).Send()
		}
		defer clog.Close()
		engineOpts = append(engineOpts, ledger.WithCommitLog(clog))
	}

	engine := ledger.NewEngine(db, engineOpts...)

	// Rebuild world state from the durable commit log before serving.
	if cfg.Ledger.CommitLogPath != "" {
		count, err := engine.Replay(cfg.Ledger.CommitLogPath)
		if err != nil {
			log.Fatal("commit log replay failed").Err(err).Send()
		}
		log.Info("world state rebuilt").
			Int("transactions", count).
			Int("keys", db.Len()).
			Send()
	}

	srv := server.NewServer(
		evidence.New(engine, evidence.WithCustodyEvents(cfg.Contracts.EmitCustodyEvents)),
		watchlist.New(engine),
		flmodel.New(engine, flmodel.WithScanLimit(cfg.Contracts.MaxEpochScan)),
		hub,
		httpLog,
		m,
	)

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	obs := server.NewObservabilityServer(cfg.Server.ObservabilityAddr, log)
	go func() {
		if err := obs.Start(); err != nil {
			log.Error("observability server stopped").Err(err).Send()
		}
	}()

	// Keep world-state stats fresh for scraping.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			var logSize int64
			if clog != nil {
				if info, err := os.Stat(clog.Path()); err == nil {
					logSize = info.Size()
				}
			}
			m.UpdateStateStats(db.Len(), logSize)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.LogServerShutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
		_ = obs.Shutdown(ctx)
	}()

	log.LogServerReady(cfg.Server.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server failed").Err(err).Send()
	}
}
