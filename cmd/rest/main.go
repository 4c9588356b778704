package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/BlearKK/deepdriver/internal/bootstrap"
	"github.com/BlearKK/deepdriver/internal/config"
	"github.com/BlearKK/deepdriver/internal/server"
	"github.com/BlearKK/deepdriver/internal/tracer"
)

func main() {
	// 0. Initialize Tracer (no-op unless OTEL_ENABLED=true)
	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(context.Background())

	// 1. Load Configuration
	cfg := config.Load()

	// 2. Bootstrap Dependencies (Container)
	// ctx is the lifetime of background dispatch workers: a session keeps
	// processing while this context is alive, even with no client attached.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container := bootstrap.NewContainer(ctx, cfg)
	defer container.Logger.Sync()

	// 3. Initialize Server
	srv := server.New(cfg, container)

	// 4. Run Server, shut down on signal
	go func() {
		<-ctx.Done()
		log.Println("Shutdown signal received, stopping server...")
		if err := srv.Shutdown(); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	if err := srv.Run(); err != nil {
		log.Fatal(err)
	}
}
