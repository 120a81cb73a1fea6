package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/printqd/printqd/internal/analyzer"
	"github.com/printqd/printqd/internal/api"
	"github.com/printqd/printqd/internal/bus"
	"github.com/printqd/printqd/internal/config"
	"github.com/printqd/printqd/internal/core"
	"github.com/printqd/printqd/internal/db"
	"github.com/printqd/printqd/internal/logger"
	"github.com/printqd/printqd/internal/storage"
)

const (
	exitOK          = 0
	exitConfigError = 1
	exitDBError     = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfigError
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfigError
	}

	log, err := logger.New(cfg.DebugLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return exitConfigError
	}
	defer log.Sync()

	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Error("failed to open database", "path", cfg.Database.Path, "error", err)
		return exitDBError
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Bootstrap(ctx); err != nil {
		log.Error("failed to bootstrap database", "error", err)
		return exitDBError
	}

	fileStorage, err := storage.New(cfg.Storage.FileStorageDir)
	if err != nil {
		log.Error("failed to init file storage", "dir", cfg.Storage.FileStorageDir, "error", err)
		return exitConfigError
	}

	hub := bus.NewHub(log)
	if cfg.EventBus.Queue != "" {
		backplane, err := bus.NewBackplane(ctx, cfg.EventBus.Queue, log)
		if err != nil {
			log.Error("failed to connect event bus queue", "error", err)
			return exitConfigError
		}
		defer backplane.Close()
		if err := hub.UseBackplane(ctx, backplane); err != nil {
			log.Error("failed to start event bus forwarder", "error", err)
			return exitConfigError
		}
		log.Info("event bus back-plane enabled")
	}

	clock := core.SystemClock()
	sm := core.NewStateMachine(clock)
	feas := core.NewFeasibility(log)
	queue := core.NewQueue(store, feas, sm, clock, log)
	dispatcher := core.NewDispatcher(store, queue, feas, sm, hub, clock, log)
	analysis := core.NewAnalysis(store, analyzer.New(log), log)

	printerLogic := bus.NewPrinterLogic(dispatcher, hub, log)
	clientLogic := bus.NewClientLogic(store, analysis, queue, dispatcher, hub, log)

	router, err := api.NewRouter(api.Deps{
		Config:       cfg,
		Store:        store,
		Queue:        queue,
		Dispatcher:   dispatcher,
		Storage:      fileStorage,
		Hub:          hub,
		PrinterLogic: printerLogic,
		ClientLogic:  clientLogic,
		Clock:        clock,
		Log:          log,
	})
	if err != nil {
		log.Error("failed to build router", "error", err)
		return exitConfigError
	}

	dispatcher.StartWatchdog(cfg.Dispatch.WatchdogInterval)
	defer dispatcher.StopWatchdog()

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// Write timeout is left to the streaming handlers; a global
		// deadline would cut long-lived event streams.
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server failed", "error", err)
		return exitConfigError
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}

	return exitOK
}
