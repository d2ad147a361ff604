package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dreamware/shardsync/internal/config"
	"github.com/dreamware/shardsync/internal/logging"
	"github.com/dreamware/shardsync/internal/metrics"
	"github.com/dreamware/shardsync/internal/reader"
	"github.com/dreamware/shardsync/internal/replication"
	"github.com/dreamware/shardsync/internal/router"
	"github.com/dreamware/shardsync/internal/search"
	"github.com/dreamware/shardsync/internal/storage"
	"github.com/dreamware/shardsync/internal/topology"
)

// server wires the data-distribution components behind the HTTP API.
type server struct {
	cfg        config.Config
	topo       *topology.Topology
	router     *router.Router
	reader     *reader.Aggregator
	searcher   *search.Searcher
	propagator *search.Propagator
	daemon     *replication.Daemon
	registry   *prometheus.Registry
	logger     zerolog.Logger
}

// newServer builds every component from cfg. connector and engine are
// passed in so tests can substitute in-memory stores and a fake engine.
func newServer(cfg config.Config, connector storage.Connector, engine search.Engine, logger zerolog.Logger) (*server, error) {
	topo, err := cfg.Topology()
	if err != nil {
		return nil, errors.Trace(err)
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	propagator, err := search.NewPropagator(search.PropagatorConfig{
		Engine:  engine,
		Policy:  cfg.Search.RetryPolicy(),
		Logger:  logging.Component(logger, "search"),
		Metrics: m,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	rt, err := router.New(router.Config{
		Topology:  topo,
		Connector: connector,
		Publisher: propagator,
		Primary:   cfg.Router.Primary,
		Overflow:  cfg.Router.Overflow,
		Threshold: cfg.Router.Threshold,
		Logger:    logging.Component(logger, "router"),
		Metrics:   m,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	agg, err := reader.New(topo, connector, logging.Component(logger, "reader"), m)
	if err != nil {
		return nil, errors.Trace(err)
	}
	daemon, err := replication.New(replication.Config{
		Topology:     topo,
		Connector:    connector,
		Interval:     cfg.Replication.Interval,
		DrainTimeout: cfg.Replication.DrainTimeout,
		Logger:       logging.Component(logger, "replication"),
		Metrics:      m,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &server{
		cfg:        cfg,
		topo:       topo,
		router:     rt,
		reader:     agg,
		searcher:   search.NewSearcher(engine, logging.Component(logger, "search"), m),
		propagator: propagator,
		daemon:     daemon,
		registry:   registry,
		logger:     logger,
	}, nil
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests, allowCORS)

	r.HandleFunc("/write", s.handleWrite).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/read", s.handleRead).Methods(http.MethodGet)
	r.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	r.HandleFunc("/replicate", s.handleReplicate).Methods(http.MethodPost)
	r.HandleFunc("/topology", s.handleTopology).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

// allowCORS lets browser frontends on other origins call the API.
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}
