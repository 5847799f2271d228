package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/paidflow/orchestrator/cmd/orchestrator/routes"
	"github.com/paidflow/orchestrator/common/bootstrap"
	ratelimitmw "github.com/paidflow/orchestrator/common/middleware"
	"github.com/paidflow/orchestrator/common/queue"
	"github.com/paidflow/orchestrator/common/server"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	components, err := bootstrap.Setup(ctx, "orchestrator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap orchestrator: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// With the in-process queue there is no separate runner binary to
	// share it with, so execution happens in embedded workers.
	if components.Config.Queue.Type == "memory" {
		workerCtx, stopWorkers := context.WithCancel(ctx)
		defer stopWorkers()
		for i := 0; i < 4; i++ {
			go executeRuns(workerCtx, components)
		}
		components.Logger.Info("embedded run workers started", "workers", 4)
	}

	e := setupEcho()
	setupMiddleware(e)
	if components.RateLimiter != nil {
		e.Use(ratelimitmw.GlobalRateLimit(components.RateLimiter))
	}
	setupHealthCheck(e, components)
	routes.Register(e, components)

	srv := server.New("orchestrator", components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func executeRuns(ctx context.Context, components *bootstrap.Components) {
	for {
		id, err := components.Queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrEmpty) {
				return
			}
			components.Logger.Warn("pop run", "error", err)
			continue
		}
		runID, err := uuid.Parse(id)
		if err != nil {
			components.Logger.Error("malformed run id on queue", "id", id)
			continue
		}
		if err := components.Engine.Execute(ctx, runID); err != nil {
			components.Logger.Error("execute run", "run_id", runID, "error", err)
		}
	}
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(503, map[string]string{"status": "unhealthy", "error": err.Error()})
		}
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"service": "orchestrator",
		})
	})
}
