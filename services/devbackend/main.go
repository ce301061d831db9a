// Dev-бэкенд: REST /messages, /contacts, /groups и /ws в памяти, данные из YAML-seed.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/messenger-client/internal/config"
	"github.com/messenger-client/internal/devbackend"
	"github.com/messenger-client/internal/logger"
)

func main() {
	logger.SetPrefix("devbackend")
	seedPath := flag.String("seed", "", "YAML seed file (overrides DEV_SEED_PATH)")
	flag.Parse()

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	if *seedPath != "" {
		cfg.DevSeedPath = *seedPath
	}

	seed, err := devbackend.LoadSeed(cfg.DevSeedPath)
	if err != nil {
		logger.Errorf("seed: %v", err)
		os.Exit(1)
	}
	logger.Infof("seed: %d contacts, %d groups, %d messages", len(seed.Contacts), len(seed.Groups), len(seed.Messages))

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := devbackend.NewHub(0)
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	srv := &http.Server{
		Addr:              cfg.DevBackendAddr,
		Handler:           devbackend.NewServer(devbackend.NewStore(seed), hub, cfg.CORSAllowedOrigins).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("dev backend listening on %s", cfg.DevBackendAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	hubCancel()
	hubWg.Wait()
	logger.Info("dev backend stopped")
}
