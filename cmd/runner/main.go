package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/paidflow/orchestrator/common/bootstrap"
	"github.com/paidflow/orchestrator/common/queue"
	"github.com/paidflow/orchestrator/common/server"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Setup(ctx, "runner")
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap runner: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	workers := 4
	if raw := os.Getenv("RUNNER_WORKERS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			workers = n
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			consume(ctx, components, worker)
		}(i)
	}
	components.Logger.Info("runner workers started", "workers", workers)

	// Health endpoint alongside the consumers.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HealthHandler())
	srv := server.New("runner", components.Config.Service.Port, mux, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
	}

	stop()
	wg.Wait()
}

// consume pops run ids off the queue and executes them until ctx ends.
func consume(ctx context.Context, components *bootstrap.Components, worker int) {
	log := components.Logger.WithFields(map[string]any{"worker": worker})
	for {
		id, err := components.Queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrEmpty) {
				return
			}
			log.Warn("pop run", "error", err)
			continue
		}
		runID, err := uuid.Parse(id)
		if err != nil {
			log.Error("malformed run id on queue", "id", id)
			continue
		}
		if err := components.Engine.Execute(ctx, runID); err != nil {
			log.Error("execute run", "run_id", runID, "error", err)
		}
	}
}
