// Package bootstrap initializes and wires every service component:
// config, logging, persistence, queue, registry, budget, agent caller,
// payment coordinator, validator, scheduler, and engine.
package bootstrap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/redis/go-redis/v9"

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
	"github.com/paidflow/orchestrator/common/repository"
	"github.com/paidflow/orchestrator/common/scheduler"
	"github.com/paidflow/orchestrator/common/store"
	"github.com/paidflow/orchestrator/common/telemetry"
	"github.com/paidflow/orchestrator/common/validation"
	"github.com/paidflow/orchestrator/common/workflow"
)

// Setup initializes all service components. This is the entry point
// every binary goes through.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	c := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	var err error
	if options.customConfig != nil {
		c.Config = options.customConfig
	} else {
		c.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if options.customLogger != nil {
		c.Logger = options.customLogger
	} else {
		c.Logger = logger.New(c.Config.Service.LogLevel, c.Config.Service.LogFormat)
	}

	c.Logger.Info("initializing service",
		"service", serviceName,
		"environment", c.Config.Service.Environment,
	)

	c.Metrics = metrics.New(options.registerer)

	if c.Config.Service.PprofPort > 0 {
		profiler := telemetry.NewProfiler(c.Config.Service.PprofPort, c.Logger)
		profiler.Start()
		c.addCleanup(profiler.Stop)
	}

	// Persistence: Postgres when DATABASE_URL is set, memory otherwise.
	if c.Config.Database.URL != "" && !options.skipDB {
		c.DB, err = db.New(ctx, c.Config, c.Logger)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		c.addCleanup(func() error {
			c.DB.Close()
			return nil
		})

		repo := repository.New(c.DB)
		if err := repo.EnsureSchema(ctx); err != nil {
			c.Shutdown(ctx)
			return nil, err
		}
		c.Store = repo
	} else {
		c.Store = store.NewMemoryStore()
	}

	if !options.skipQueue {
		switch c.Config.Queue.Type {
		case "memory":
			c.Queue = queue.NewMemoryQueue()
		case "redis":
			client := redis.NewClient(&redis.Options{
				Addr:     c.Config.Redis.Addr,
				Password: c.Config.Redis.Password,
				DB:       c.Config.Redis.DB,
			})
			c.addCleanup(client.Close)
			c.Queue, err = queue.NewRedisQueue(ctx, client, c.Config.Queue.Stream)
			if err != nil {
				c.Shutdown(ctx)
				return nil, fmt.Errorf("init redis queue: %w", err)
			}
		default:
			return nil, fmt.Errorf("unknown queue type: %s", c.Config.Queue.Type)
		}
		c.addCleanup(func() error { return c.Queue.Close() })
	}

	// Rate limiting needs its own Redis connection; the queue client may
	// not exist (memory queue) or may be busy blocking on reads.
	if c.Config.RateLimit.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     c.Config.Redis.Addr,
			Password: c.Config.Redis.Password,
			DB:       c.Config.Redis.DB,
		})
		c.addCleanup(client.Close)
		c.RateLimiter = ratelimit.New(client, ratelimit.Limits{
			Global:   c.Config.RateLimit.Global,
			Simple:   c.Config.RateLimit.Simple,
			Standard: c.Config.RateLimit.Standard,
			Heavy:    c.Config.RateLimit.Heavy,
		}, c.Logger)
		c.Logger.Info("rate limiting enabled", "global_per_minute", c.Config.RateLimit.Global)
	}

	c.Registry = registry.New(c.Logger)
	c.Ledger = budget.NewLedger(c.Logger)
	c.Loader = workflow.NewLoader()
	c.Caller = agentcall.New(c.Logger, agentcall.WithTimeout(c.Config.Caller.Timeout))

	// Payments need a signer. Without one, paywalled agents fail instead
	// of settling.
	if c.Config.PaymentsEnabled() && c.Config.Payment.AutoPayment {
		chain := options.chain
		if chain == nil {
			chain = payment.NewSimChain(signerAddress(c.Config.Payment.SignerKey))
		}
		c.Payments = payment.NewCoordinator(c.Caller, chain, payment.Config{
			Network:          c.Config.Payment.Network,
			MaxPaymentAtomic: models.Atomic(c.Config.Payment.MaxPaymentAtomic),
		}, c.Logger)
		c.Logger.Info("payment coordinator enabled",
			"network", c.Config.Payment.Network,
			"max_payment_atomic", c.Config.Payment.MaxPaymentAtomic,
		)
	}

	c.Validator, err = validation.New(c.Registry)
	if err != nil {
		c.Shutdown(ctx)
		return nil, fmt.Errorf("init validator: %w", err)
	}

	c.Scheduler = scheduler.New(c.Validator, c.Ledger, c.Store, c.Queue, c.Logger)

	deps := engine.Deps{
		Store:   c.Store,
		Agents:  c.Registry,
		Budget:  c.Ledger,
		Caller:  c.Caller,
		Metrics: c.Metrics,
		Logger:  c.Logger,
	}
	if c.Payments != nil {
		deps.Payments = c.Payments
	}
	c.Engine = engine.New(deps)

	c.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", c.DB != nil,
		"queue_type", c.Config.Queue.Type,
		"payments", c.Payments != nil,
	)
	return c, nil
}

// MustSetup is Setup but panics on error.
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	c, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("setup service %s: %v", serviceName, err))
	}
	return c
}

// signerAddress derives a stable address from the signer key so the
// simulated chain identifies the payer consistently.
func signerAddress(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "0x" + hex.EncodeToString(sum[:20])
}
