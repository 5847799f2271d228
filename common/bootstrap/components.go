package bootstrap

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/paidflow/orchestrator/common/agentcall"
	"github.com/paidflow/orchestrator/common/budget"
	"github.com/paidflow/orchestrator/common/config"
	"github.com/paidflow/orchestrator/common/db"
	"github.com/paidflow/orchestrator/common/engine"
	"github.com/paidflow/orchestrator/common/logger"
	"github.com/paidflow/orchestrator/common/metrics"
	"github.com/paidflow/orchestrator/common/models"
	"github.com/paidflow/orchestrator/common/payment"
	"github.com/paidflow/orchestrator/common/queue"
	"github.com/paidflow/orchestrator/common/ratelimit"
	"github.com/paidflow/orchestrator/common/registry"
	"github.com/paidflow/orchestrator/common/scheduler"
	"github.com/paidflow/orchestrator/common/validation"
	"github.com/paidflow/orchestrator/common/workflow"
)

// Store is the persistence surface both the scheduler and the engine
// consume. MemoryStore and the Postgres repository implement it.
type Store interface {
	SaveWorkflow(ctx context.Context, spec *models.WorkflowSpec) error
	GetWorkflow(ctx context.Context, id string) (*models.WorkflowSpec, error)
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	UpdateRun(ctx context.Context, run *models.Run) error
	CreateNodeRun(ctx context.Context, nr *models.NodeRun) error
	UpdateNodeRun(ctx context.Context, nr *models.NodeRun) error
	ListNodeRuns(ctx context.Context, runID uuid.UUID) ([]*models.NodeRun, error)
	ListRuns(ctx context.Context) ([]*models.Run, error)
}

// Components holds all initialized service dependencies.
type Components struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.DB

	Store       Store
	Registry    *registry.Registry
	Ledger      *budget.Ledger
	Queue       queue.Queue
	Metrics     *metrics.Metrics
	Caller      *agentcall.Caller
	Payments    *payment.Coordinator
	Validator   *validation.Validator
	Scheduler   *scheduler.Scheduler
	Engine      *engine.Engine
	Loader      *workflow.Loader
	RateLimiter *ratelimit.Limiter

	cleanupFuncs []func() error
}

// Shutdown runs cleanup functions in reverse registration order.
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs []error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks health of all components.
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}
	return nil
}

func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
