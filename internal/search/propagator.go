package search

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/dreamware/shardsync/internal/cluster"
	"github.com/dreamware/shardsync/internal/metrics"
	"github.com/dreamware/shardsync/internal/retry"
)

// DefaultPolicy is the indexing retry budget.
var DefaultPolicy = retry.Policy{Attempts: 5, Delay: 2 * time.Second}

// PropagatorConfig configures a Propagator.
type PropagatorConfig struct {
	Engine  Engine
	Policy  retry.Policy
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Propagator mirrors committed records into the search engine. Publish
// never blocks the caller; failures are retried within the policy and then
// logged and dropped.
type Propagator struct {
	engine  Engine
	policy  retry.Policy
	logger  zerolog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPropagator validates cfg and returns a ready Propagator.
func NewPropagator(cfg PropagatorConfig) (*Propagator, error) {
	if cfg.Engine == nil {
		return nil, errors.NotValidf("nil search engine")
	}
	if cfg.Policy.Attempts == 0 {
		cfg.Policy.Attempts = DefaultPolicy.Attempts
		if cfg.Policy.Delay == 0 {
			cfg.Policy.Delay = DefaultPolicy.Delay
		}
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Propagator{
		engine:  cfg.Engine,
		policy:  cfg.Policy,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Publish schedules doc for indexing and returns immediately. Documents
// published after Close are dropped.
func (p *Propagator) Publish(doc cluster.Document) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn().Str("key", doc.Key()).Msg("propagator closed, dropping document")
		p.metrics.IndexResult(false)
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.metrics.Pending(1)
	go func() {
		defer p.wg.Done()
		defer p.metrics.Pending(-1)
		_ = p.Propagate(p.ctx, doc)
	}()
}

// Propagate indexes doc synchronously, retrying within the policy. The
// final error is logged and returned.
func (p *Propagator) Propagate(ctx context.Context, doc cluster.Document) error {
	err := retry.Do(ctx, p.policy, func(ctx context.Context) error {
		p.metrics.IndexAttempt()
		return p.engine.Index(ctx, doc)
	}, retry.Options{
		Notify: func(err error, attempt int) {
			p.logger.Debug().Err(err).Str("key", doc.Key()).Int("attempt", attempt).Msg("index attempt failed")
		},
	})
	p.metrics.IndexResult(err == nil)
	if err != nil {
		p.logger.Error().Err(err).Str("key", doc.Key()).Msg("abandoning document")
		return err
	}
	p.logger.Debug().Str("key", doc.Key()).Msg("document indexed")
	return nil
}

// Close stops accepting documents and waits for in-flight ones. When ctx
// ends first, pending retries are aborted and Close returns ctx's error
// once they have unwound.
func (p *Propagator) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return errors.Annotate(ctx.Err(), "draining propagator")
	}
}
