// Package telemetry exposes a pprof sidecar for live profiling. It
// binds to localhost only; profiles are pulled over an SSH tunnel in
// deployed environments.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/paidflow/orchestrator/common/logger"
)

// Profiler serves the pprof handlers on a dedicated localhost port.
type Profiler struct {
	server *http.Server
	log    *logger.Logger
}

// NewProfiler creates a profiler on localhost:port.
func NewProfiler(port int, log *logger.Logger) *Profiler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return &Profiler{
		server: &http.Server{
			Addr:    fmt.Sprintf("localhost:%d", port),
			Handler: mux,
		},
		log: log,
	}
}

// Start serves pprof in the background.
func (p *Profiler) Start() {
	go func() {
		p.log.Info("pprof server starting", "addr", p.server.Addr)
		if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Error("pprof server error", "error", err)
		}
	}()
}

// Stop shuts the pprof server down.
func (p *Profiler) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.server.Shutdown(ctx)
}
