package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"oape-orchestrator/internal/app"
	"oape-orchestrator/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	services, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("init services: %v", err)
	}
	defer services.Close()

	server, err := app.NewServer(ctx, services)
	if err != nil {
		log.Fatalf("init server: %v", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		log.Printf("server: %v", err)
	}
}
