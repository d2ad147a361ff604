// Command shardsync serves the sharded write path, the replica read path and
// search over HTTP, and runs the replication daemon in the same process.
//
// Flags:
//
//	--config path      YAML configuration file (optional)
//	--listen addr      listen address, overrides config and LISTEN_ADDR
//	--no-replication   do not run the periodic replication loop
//
// Environment overrides are documented in internal/config.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/rs/zerolog"

	"github.com/dreamware/shardsync/internal/config"
	"github.com/dreamware/shardsync/internal/logging"
	"github.com/dreamware/shardsync/internal/retry"
	"github.com/dreamware/shardsync/internal/search"
)

var logFatal = func(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stderr, nil); err != nil {
		logFatal("shardsync: %v", err)
	}
}

type options struct {
	configPath    string
	listen        string
	noReplication bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := gnuflag.NewFlagSet("shardsync", gnuflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "path to YAML configuration")
	fs.StringVar(&opts.listen, "listen", "", "HTTP listen address")
	fs.BoolVar(&opts.noReplication, "no-replication", false, "disable the periodic replication loop")
	if err := fs.Parse(true, args); err != nil {
		return options{}, err
	}
	if len(fs.Args()) > 0 {
		return options{}, errors.Errorf("unexpected arguments %q", fs.Args())
	}
	return opts, nil
}

func loadConfig(opts options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, errors.Trace(err)
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}
	if opts.noReplication {
		cfg.Replication.Enabled = false
	}
	return cfg, errors.Trace(cfg.Validate())
}

// run starts the service and blocks until ctx is done. If ready is non-nil
// it receives the bound listen address once the server accepts connections.
func run(ctx context.Context, args []string, stderr io.Writer, ready chan<- string) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log, stderr)
	if err != nil {
		return errors.Trace(err)
	}

	connector, err := cfg.Connector()
	if err != nil {
		return errors.Trace(err)
	}
	client := search.NewClient(cfg.SearchURL(), cfg.Search.Index, cfg.Search.Timeout)
	srv, err := newServer(cfg, connector, client, logger)
	if err != nil {
		return errors.Trace(err)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return errors.Annotatef(err, "listen on %s", cfg.Listen)
	}

	go waitForSearch(ctx, client, cfg.Search.RetryPolicy(), logger)

	if cfg.Replication.Enabled {
		srv.daemon.Start(ctx)
	} else {
		logger.Info().Msg("replication loop disabled")
	}

	httpSrv := &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Str("mode", string(cfg.Mode)).Msg("shardsync listening")
		serveErr <- httpSrv.Serve(ln)
	}()
	if ready != nil {
		ready <- ln.Addr().String()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != http.ErrServerClosed {
			runErr = errors.Annotate(err, "serve")
		}
	}
	return shutdown(srv, httpSrv, logger, runErr)
}

// shutdown stops accepting requests, then drains replication and search
// propagation, each within its own deadline.
func shutdown(srv *server, httpSrv *http.Server, logger zerolog.Logger, runErr error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	if err := srv.daemon.Stop(); err != nil {
		logger.Warn().Err(err).Msg("replication drain")
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), srv.cfg.Replication.DrainTimeout)
	defer drainCancel()
	if err := srv.propagator.Close(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("search propagation drain")
	}
	logger.Info().Msg("shardsync stopped")
	return runErr
}

// waitForSearch checks that the search engine is up. Writes never wait for
// it; a failure is only logged.
func waitForSearch(ctx context.Context, client *search.Client, policy retry.Policy, logger zerolog.Logger) {
	err := retry.Do(ctx, policy, client.Ping, retry.Options{
		Notify: func(err error, attempt int) {
			logger.Debug().Err(err).Int("attempt", attempt).Msg("search engine not ready")
		},
	})
	if err != nil {
		logger.Warn().Err(err).Msg("search engine unavailable, indexing will be retried per write")
		return
	}
	logger.Info().Msg("search engine ready")
}
