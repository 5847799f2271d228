package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/paidflow/orchestrator/common/bootstrap"
	"github.com/paidflow/orchestrator/common/budget"
	"github.com/paidflow/orchestrator/common/models"
	"github.com/paidflow/orchestrator/common/ratelimit"
	"github.com/paidflow/orchestrator/common/scheduler"
	"github.com/paidflow/orchestrator/common/store"
	"github.com/paidflow/orchestrator/common/validation"
)

// RunHandler schedules, inspects, and cancels workflow runs.
type RunHandler struct {
	components *bootstrap.Components
}

// NewRunHandler creates a run handler.
func NewRunHandler(components *bootstrap.Components) *RunHandler {
	return &RunHandler{components: components}
}

// ScheduleRequest is the run submission body. Workflow carries the
// YAML document; WorkflowSpec is the pre-parsed alternative.
type ScheduleRequest struct {
	Workflow     string                 `json:"workflow,omitempty"`
	WorkflowSpec *models.WorkflowSpec   `json:"workflow_spec,omitempty"`
	Wallet       string                 `json:"wallet"`
	Inputs       map[string]interface{} `json:"inputs,omitempty"`
}

// Schedule validates the workflow, reserves the budget, and enqueues
// the run.
// POST /api/v1/runs
func (h *RunHandler) Schedule(c echo.Context) error {
	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Wallet == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "wallet is required")
	}

	spec := req.WorkflowSpec
	if spec == nil {
		if req.Workflow == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "workflow or workflow_spec is required")
		}
		parsed, err := h.components.Loader.Load([]byte(req.Workflow))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		spec = parsed
	}

	// Per-wallet quota, bucketed by workflow weight. Limiter errors
	// fail open.
	if limiter := h.components.RateLimiter; limiter != nil {
		tier := ratelimit.TierFor(spec)
		if result, err := limiter.CheckWallet(c.Request().Context(), req.Wallet, tier); err == nil && !result.Allowed {
			return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
				"error":   "rate_limit_exceeded",
				"message": "schedule quota exhausted for this wallet",
				"details": map[string]interface{}{
					"tier":                string(tier),
					"limit":               result.Limit,
					"window":              "60 seconds",
					"retry_after_seconds": result.RetryAfterSeconds,
				},
			})
		}
	}

	run, err := h.components.Scheduler.Schedule(c.Request().Context(), spec, req.Wallet, req.Inputs)
	if err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"valid":  false,
				"errors": verr.Reasons,
			})
		}
		if errors.Is(err, budget.ErrInsufficientFunds) {
			return echo.NewHTTPError(http.StatusPaymentRequired, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, run)
}

// Get returns the run with its node executions.
// GET /api/v1/runs/:id
func (h *RunHandler) Get(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}

	run, err := h.components.Scheduler.Get(c.Request().Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	nodeRuns, err := h.components.Store.ListNodeRuns(c.Request().Context(), runID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run":       run,
		"node_runs": nodeRuns,
	})
}

// List returns all runs, newest first.
// GET /api/v1/runs
func (h *RunHandler) List(c echo.Context) error {
	runs, err := h.components.Scheduler.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

// Cancel cancels a queued or running run.
// POST /api/v1/runs/:id/cancel
func (h *RunHandler) Cancel(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}

	run, err := h.components.Scheduler.Cancel(c.Request().Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		if errors.Is(err, scheduler.ErrAlreadyTerminal) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}
