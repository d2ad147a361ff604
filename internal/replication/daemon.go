package replication

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/shardsync/internal/metrics"
	"github.com/dreamware/shardsync/internal/storage"
	"github.com/dreamware/shardsync/internal/topology"
)

// Defaults used when Config leaves a duration at zero.
const (
	DefaultInterval     = 10 * time.Second
	DefaultDrainTimeout = 5 * time.Second
)

// PairStatus is the outcome of one shard/replica pair in a tick.
type PairStatus struct {
	Shard   string `json:"shard"`
	Replica string `json:"replica"`
	Copied  int    `json:"copied"`
	Skipped bool   `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// Report summarises one tick. Pairs are listed in topology order.
type Report struct {
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
	Pairs    []PairStatus  `json:"pairs"`
}

// Copied returns the number of records copied across all pairs.
func (r Report) Copied() int {
	n := 0
	for _, p := range r.Pairs {
		n += p.Copied
	}
	return n
}

// Config configures a Daemon.
type Config struct {
	Topology  *topology.Topology
	Connector storage.Connector
	// Interval between ticks. The first tick runs one interval after Start.
	Interval time.Duration
	// DrainTimeout bounds how long Stop waits for an in-flight tick before
	// aborting it.
	DrainTimeout time.Duration
	// Clock drives the tick and drain timers. Defaults to the wall clock.
	Clock   clock.Clock
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Daemon copies missing records from every shard into its replica on a
// fixed interval.
// Thread-safe: Tick may be called directly while the loop is running; ticks
// are serialised.
type Daemon struct {
	topo      *topology.Topology
	connector storage.Connector
	interval  time.Duration
	drain     time.Duration
	clock     clock.Clock
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	ctx    context.Context    // cancelled by Stop to end the loop
	cancel context.CancelFunc // ends the loop
	abort  context.CancelFunc // aborts an in-flight tick
	tctx   context.Context    // parent of every tick started by the loop
	wg     sync.WaitGroup     // tracks the loop goroutine
	done   chan struct{}      // closed when the loop returns

	tickMu sync.Mutex // serialises ticks
	mu     sync.RWMutex
	last   Report
	onTick func(Report)
}

// New creates a daemon ready to Start.
//
// Parameters:
//   - cfg: topology and connector are required; zero durations take the
//     package defaults
//
// Example:
//
//	d, err := replication.New(replication.Config{Topology: topo, Connector: conn})
//	d.Start(ctx)
//	defer d.Stop()
func New(cfg Config) (*Daemon, error) {
	if cfg.Topology == nil {
		return nil, errors.NotValidf("nil topology")
	}
	if cfg.Connector == nil {
		return nil, errors.NotValidf("nil connector")
	}
	if cfg.Interval < 0 || cfg.DrainTimeout < 0 {
		return nil, errors.NotValidf("negative replication durations")
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}

	ctx, cancel := context.WithCancel(context.Background())
	tctx, abort := context.WithCancel(context.Background())
	return &Daemon{
		topo:      cfg.Topology,
		connector: cfg.Connector,
		interval:  cfg.Interval,
		drain:     cfg.DrainTimeout,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		tctx:      tctx,
		abort:     abort,
		done:      make(chan struct{}),
	}, nil
}

// SetOnTick registers a callback invoked with the report of every tick the
// loop runs. Must be called before Start.
func (d *Daemon) SetOnTick(callback func(Report)) {
	d.onTick = callback
}

// Start launches the replication loop and returns. The loop runs until ctx
// is cancelled or Stop is called, and waits one interval before the first
// tick. Start must be called at most once.
//
// Cancelling ctx ends the loop once the current tick returns; Stop is the
// way to bound that tick.
func (d *Daemon) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.loop(ctx)
}

// Done is closed once a started loop has returned.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

func (d *Daemon) loop(ctx context.Context) {
	defer d.wg.Done()
	defer close(d.done)

	d.logger.Info().Dur("interval", d.interval).Int("pairs", len(d.topo.Pairs())).Msg("replication started")
	for {
		select {
		case <-d.clock.After(d.interval):
			if ctx.Err() != nil || d.ctx.Err() != nil {
				return
			}
			report := d.Tick(d.tctx)
			if d.onTick != nil {
				d.onTick(report)
			}
		case <-ctx.Done():
			d.logger.Info().Msg("replication stopping due to context cancellation")
			return
		case <-d.ctx.Done():
			d.logger.Info().Msg("replication stopping")
			return
		}
	}
}

// Stop ends the loop and waits for an in-flight tick to finish. If the tick
// outlives the drain timeout it is aborted through its context, and Stop
// returns an error once it has unwound.
func (d *Daemon) Stop() error {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-d.clock.After(d.drain):
		err = errors.Timeoutf("replication tick still running after %v", d.drain)
		d.logger.Warn().Dur("drain_timeout", d.drain).Msg("aborting in-flight replication tick")
		d.abort()
		<-done
	}
	d.abort()
	d.logger.Info().Msg("replication stopped")
	return err
}

// LastReport returns the report of the most recent tick.
func (d *Daemon) LastReport() Report {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

// Tick synchronises every pair once. Pairs run concurrently and fail
// independently: a pair whose stores cannot be reached is skipped and the
// rest proceed.
func (d *Daemon) Tick(ctx context.Context) Report {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	started := d.clock.Now()
	pairs := d.topo.Pairs()
	statuses := make([]PairStatus, len(pairs))

	var g errgroup.Group
	for i, pair := range pairs {
		i, pair := i, pair
		g.Go(func() error {
			statuses[i] = d.SyncPair(ctx, pair)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Started:  started,
		Duration: d.clock.Now().Sub(started),
		Pairs:    statuses,
	}
	d.metrics.Tick(report.Duration.Seconds())

	d.mu.Lock()
	d.last = report
	d.mu.Unlock()
	return report
}
