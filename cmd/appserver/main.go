package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sjafferali/claudelens-archive/internal/app"
	"github.com/sjafferali/claudelens-archive/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	rootCtx := context.Background()

	application, err := app.New(rootCtx, cfg)
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	if err := application.Start(rootCtx); err != nil {
		log.Fatalf("start application: %v", err)
	}
	log.Printf("archive service running (env=%s)", cfg.Env)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
