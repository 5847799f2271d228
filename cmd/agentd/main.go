// agentd hosts a minimal paid echo agent: it serves an agent card and
// a JSON-RPC message/send endpoint gated behind a payment requirement.
// Useful for exercising the orchestrator's payment flow end to end.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/paidflow/orchestrator/common/agentcall"
	"github.com/paidflow/orchestrator/common/config"
	"github.com/paidflow/orchestrator/common/logger"
	"github.com/paidflow/orchestrator/common/models"
	"github.com/paidflow/orchestrator/common/payment"
	"github.com/paidflow/orchestrator/common/server"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("agentd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	price, _ := models.ParseAtomic(getenv("AGENT_PRICE_ATOMIC", "100"))
	requirement := models.PaymentRequirement{
		Scheme:            models.SchemeExact,
		Network:           cfg.Payment.Network,
		Asset:             getenv("AGENT_ASSET", "0xusdc"),
		PayTo:             cfg.Payment.MerchantAddress,
		MaxAmountRequired: price,
		Description:       "echo service",
		MaxTimeoutSeconds: 300,
	}
	chain := payment.NewSimChain(cfg.Payment.MerchantAddress)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET(agentcall.AgentCardPath, func(c echo.Context) error {
		return c.JSON(http.StatusOK, agentcall.AgentCard{
			Name:         "echo agent",
			Capabilities: []string{"echo"},
		})
	})

	rpc := e.Group("")
	if requirement.PayTo != "" {
		rpc.Use(payment.RequirePayment(chain, requirement))
		log.Info("payment gate enabled", "price", price, "pay_to", requirement.PayTo)
	}
	rpc.POST("/", handleMessage)

	srv := server.New("agentd", cfg.Service.Port, e, log)
	if err := srv.Start(); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// handleMessage echoes the data part back as the result.
func handleMessage(c echo.Context) error {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Params struct {
			Message struct {
				Parts []struct {
					Kind string                 `json:"kind"`
					Data map[string]interface{} `json:"data"`
				} `json:"parts"`
			} `json:"message"`
		} `json:"params"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	echoed := map[string]interface{}{}
	for _, p := range req.Params.Message.Parts {
		if p.Kind == "data" {
			for k, v := range p.Data {
				echoed[k] = v
			}
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result": map[string]interface{}{
			"kind":      "message",
			"messageId": uuid.NewString(),
			"role":      "agent",
			"parts": []map[string]interface{}{
				{"kind": "data", "data": echoed},
			},
		},
	})
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
