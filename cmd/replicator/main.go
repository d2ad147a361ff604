// Command replicator runs only the replication daemon, for deployments that
// keep the API and the replication loop in separate processes.
//
// It reads the same configuration as shardsync and exposes:
//
//	GET  /health     liveness
//	GET  /status     report of the last tick
//	POST /replicate  run a tick now
//	GET  /metrics    Prometheus metrics
//
// Optional environment:
//   - REPLICATOR_LISTEN: listen address (default ":5001")
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dreamware/shardsync/internal/config"
	"github.com/dreamware/shardsync/internal/logging"
	"github.com/dreamware/shardsync/internal/metrics"
	"github.com/dreamware/shardsync/internal/replication"
)

var logFatal = func(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stderr, nil); err != nil {
		logFatal("replicator: %v", err)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func run(ctx context.Context, args []string, stderr io.Writer, ready chan<- string) error {
	var configPath, listen string
	fs := gnuflag.NewFlagSet("replicator", gnuflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&configPath, "config", "", "path to YAML configuration")
	fs.StringVar(&listen, "listen", getenv("REPLICATOR_LISTEN", ":5001"), "HTTP listen address")
	if err := fs.Parse(true, args); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Trace(err)
	}
	if err := cfg.Validate(); err != nil {
		return errors.Trace(err)
	}
	logger, err := logging.New(cfg.Log, stderr)
	if err != nil {
		return errors.Trace(err)
	}
	topo, err := cfg.Topology()
	if err != nil {
		return errors.Trace(err)
	}
	connector, err := cfg.Connector()
	if err != nil {
		return errors.Trace(err)
	}

	registry := prometheus.NewRegistry()
	daemon, err := replication.New(replication.Config{
		Topology:     topo,
		Connector:    connector,
		Interval:     cfg.Replication.Interval,
		DrainTimeout: cfg.Replication.DrainTimeout,
		Logger:       logging.Component(logger, "replication"),
		Metrics:      metrics.New(registry),
	})
	if err != nil {
		return errors.Trace(err)
	}

	daemon.SetOnTick(func(r replication.Report) {
		logTick(logger, r)
	})

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return errors.Annotatef(err, "listen on %s", listen)
	}
	httpSrv := &http.Server{
		Handler:           routes(daemon, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Msg("replicator listening")
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("serve")
		}
	}()
	if ready != nil {
		ready <- ln.Addr().String()
	}

	daemon.Start(ctx)
	select {
	case <-ctx.Done():
	case <-daemon.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	if err := daemon.Stop(); err != nil {
		logger.Warn().Err(err).Msg("replication drain")
	}
	logger.Info().Msg("replicator stopped")
	return nil
}

// logTick summarises a loop tick: info when records moved or pairs were
// skipped, debug otherwise.
func logTick(logger zerolog.Logger, r replication.Report) {
	skipped := 0
	for _, p := range r.Pairs {
		if p.Skipped {
			skipped++
		}
	}
	ev := logger.Debug()
	if r.Copied() > 0 || skipped > 0 {
		ev = logger.Info()
	}
	ev.Int("copied", r.Copied()).Int("skipped", skipped).Dur("took", r.Duration).Msg("replication tick")
}

func routes(daemon *replication.Daemon, registry *prometheus.Registry) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, daemon.LastReport())
	}).Methods(http.MethodGet)
	r.HandleFunc("/replicate", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, daemon.Tick(r.Context()))
	}).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
