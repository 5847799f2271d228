// Package routes wires the HTTP API onto the Echo router.
package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paidflow/orchestrator/cmd/orchestrator/handlers"
	"github.com/paidflow/orchestrator/common/bootstrap"
)

// Register mounts every API route.
func Register(e *echo.Echo, components *bootstrap.Components) {
	agents := handlers.NewAgentHandler(components)
	workflows := handlers.NewWorkflowHandler(components)
	runs := handlers.NewRunHandler(components)
	wallets := handlers.NewWalletHandler(components)

	api := e.Group("/api/v1")

	api.POST("/agents", agents.Create)
	api.GET("/agents", agents.List)
	api.GET("/agents/:ref", agents.Get)
	api.PATCH("/agents/:ref", agents.Update)
	api.DELETE("/agents/:ref", agents.Delete)
	api.POST("/agents/:ref/publish", agents.Publish)
	api.POST("/agents/:ref/deprecate", agents.Deprecate)
	api.POST("/agents/:ref/suspend", agents.Suspend)

	api.POST("/workflows/validate", workflows.Validate)

	api.POST("/runs", runs.Schedule)
	api.GET("/runs", runs.List)
	api.GET("/runs/:id", runs.Get)
	api.POST("/runs/:id/cancel", runs.Cancel)

	api.POST("/wallets/:wallet/deposit", wallets.Deposit)
	api.GET("/wallets/:wallet/balance", wallets.Balance)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
