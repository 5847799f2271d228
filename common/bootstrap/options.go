package bootstrap

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/paidflow/orchestrator/common/config"
	"github.com/paidflow/orchestrator/common/logger"
	"github.com/paidflow/orchestrator/common/payment"
)

// Option configures the bootstrap process.
type Option func(*options)

type options struct {
	skipDB       bool
	skipQueue    bool
	customLogger *logger.Logger
	customConfig *config.Config
	chain        payment.ChainClient
	registerer   prometheus.Registerer
}

// WithoutDB skips database initialization even when DATABASE_URL is set.
func WithoutDB() Option {
	return func(o *options) { o.skipDB = true }
}

// WithoutQueue skips queue initialization.
func WithoutQueue() Option {
	return func(o *options) { o.skipQueue = true }
}

// WithCustomLogger uses a custom logger instead of creating one.
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) { o.customLogger = log }
}

// WithCustomConfig uses a custom config instead of loading from env.
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

// WithChainClient substitutes the settlement chain client.
func WithChainClient(chain payment.ChainClient) Option {
	return func(o *options) { o.chain = chain }
}

// WithRegisterer substitutes the Prometheus registerer, for tests.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func defaultOptions() *options {
	return &options{
		registerer: prometheus.DefaultRegisterer,
	}
}
