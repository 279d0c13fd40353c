package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nicktill/salesdash/pkg/config"
	"github.com/nicktill/salesdash/pkg/logger"
	"github.com/nicktill/salesdash/pkg/server"
)

func main() {
	settings, warnings, cfgErr := config.Load()

	log, err := logger.New(settings.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log.SugaredLogger.Desugar())

	for _, w := range warnings {
		log.Warn(w)
	}
	if cfgErr != nil {
		log.Fatal("invalid configuration", "error", cfgErr)
	}

	log.Info("starting salesdash", "port", settings.Port, "partitions", settings.Partitions)

	snaps, err := server.InitializeSnapshots(settings, log)
	if err != nil {
		log.Fatal("failed to open snapshot store", "error", err)
	}
	comp, err := server.Initialize(settings, snaps, log)
	if err != nil {
		log.Fatal("failed to initialize engine", "error", err)
	}
	defer func() {
		if err := comp.Close(); err != nil {
			log.Warn("close failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		comp.Hub.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		server.BroadcastStatus(ctx, comp)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		server.Warmup(ctx, comp)
	}()

	if snaps != nil {
		wg.Add(1)
		go server.RunSnapshotGC(ctx, snaps, log, &wg)
	}

	router := mux.NewRouter()
	server.SetupRoutes(router, comp, settings.Port)

	srv := &http.Server{
		Addr:         ":" + settings.Port,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	go func() {
		log.Info("server listening", "addr", "http://localhost:"+settings.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutdown signal received")

	// Cancel before wg.Wait: the hub and broadcaster only exit on ctx.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown warning", "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("background tasks stopped")
	case <-time.After(5 * time.Second):
		// a dataset load in flight does not observe cancellation
		log.Warn("some background tasks did not stop in time")
	}

	log.Info("salesdash exited")
}
