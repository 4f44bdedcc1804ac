package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/avasilyev/contract-intel/internal/bootstrap"
	"github.com/avasilyev/contract-intel/internal/config"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	if app.Queue == nil {
		app.Logger.Info("no submission queue configured, waiting for shutdown signal")
		<-ctx.Done()
		return
	}

	app.Logger.Info("worker subscribed", "subject", cfg.NATSSubmitSubject)
	if err := app.Queue.SubscribeSubmissions(ctx, app.Scheduler); err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
