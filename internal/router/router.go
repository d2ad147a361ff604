package router

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/dreamware/shardsync/internal/cluster"
	"github.com/dreamware/shardsync/internal/metrics"
	"github.com/dreamware/shardsync/internal/storage"
	"github.com/dreamware/shardsync/internal/topology"
)

// ErrServiceUnavailable is returned when neither shard can be connected.
const ErrServiceUnavailable = errors.ConstError("Both shards unavailable")

// Publisher receives committed records. Publish must not block.
type Publisher interface {
	Publish(doc cluster.Document)
}

// Config configures a Router.
type Config struct {
	Topology  *topology.Topology
	Connector storage.Connector
	// Publisher is optional; nil disables search propagation.
	Publisher Publisher
	Primary   string
	Overflow  string
	Threshold int
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// Validate checks that the router can be built from c.
func (c Config) Validate() error {
	if c.Topology == nil {
		return errors.NotValidf("nil topology")
	}
	if c.Connector == nil {
		return errors.NotValidf("nil connector")
	}
	if c.Threshold < 0 {
		return errors.NotValidf("negative threshold %d", c.Threshold)
	}
	if c.Primary == c.Overflow {
		return errors.NotValidf("primary and overflow shard both %q", c.Primary)
	}
	for _, name := range []string{c.Primary, c.Overflow} {
		if !c.Topology.IsShard(name) {
			return errors.NotValidf("shard %q", name)
		}
	}
	return nil
}

// Router is stateless between writes and safe for concurrent use.
type Router struct {
	cfg Config
}

// New returns a Router for cfg.
func New(cfg Config) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Router{cfg: cfg}, nil
}

// SelectTarget returns primary while count is below threshold and overflow
// from then on.
func SelectTarget(count, threshold int, primary, overflow string) string {
	if count < threshold {
		return primary
	}
	return overflow
}

// PrimaryCount returns the primary shard's record count. An unreachable
// primary counts as empty.
func (r *Router) PrimaryCount(ctx context.Context) int {
	log := r.cfg.Logger
	target := r.cfg.Topology.Resolve(r.cfg.Primary)
	conn, err := r.cfg.Connector.Connect(ctx, target)
	if err != nil {
		log.Warn().Err(err).Str("shard", target.Name).Str("addr", target.Addr()).Msg("cannot count primary shard, assuming empty")
		return 0
	}
	defer conn.Close()

	n, err := conn.Count(ctx)
	if err != nil {
		log.Warn().Err(err).Str("shard", target.Name).Msg("count failed, assuming empty")
		return 0
	}
	return n
}

// Write stores data on the shard chosen by the threshold policy and returns
// the shard that actually committed it. Empty data is replaced by a
// generated "data-N" payload.
func (r *Router) Write(ctx context.Context, data string) (cluster.WriteResult, error) {
	count := r.PrimaryCount(ctx)
	if data == "" {
		data = fmt.Sprintf("data-%d", count+1)
	}
	want := SelectTarget(count, r.cfg.Threshold, r.cfg.Primary, r.cfg.Overflow)

	shard, conn, err := r.connect(ctx, want)
	if err != nil {
		r.cfg.Metrics.WriteFailed("unavailable")
		return cluster.WriteResult{}, err
	}
	defer conn.Close()

	id, err := conn.Insert(ctx, data, shard)
	if err != nil {
		r.cfg.Metrics.WriteFailed("insert")
		return cluster.WriteResult{}, errors.Annotatef(err, "inserting into %s", shard)
	}
	if err := conn.Commit(); err != nil {
		r.cfg.Metrics.WriteFailed("commit")
		return cluster.WriteResult{}, errors.Annotatef(err, "committing to %s", shard)
	}
	r.cfg.Metrics.Write(shard, shard != want)
	r.cfg.Logger.Info().Str("shard", shard).Int64("id", id).Int("count", count).Msg("record written")

	rec := cluster.Record{ID: id, Data: data, Source: shard}
	if r.cfg.Publisher != nil {
		r.cfg.Publisher.Publish(cluster.DocumentOf(rec))
	}
	return cluster.WriteResult{WrittenTo: shard, ID: id, Data: data}, nil
}

// connect opens want, falling back to the other shard once.
func (r *Router) connect(ctx context.Context, want string) (string, storage.Conn, error) {
	log := r.cfg.Logger
	target := r.cfg.Topology.Resolve(want)
	conn, err := r.cfg.Connector.Connect(ctx, target)
	if err == nil {
		return want, conn, nil
	}
	if !errors.Is(err, storage.ErrUnavailable) {
		return "", nil, errors.Trace(err)
	}

	alt := r.other(want)
	log.Warn().Err(err).Str("shard", want).Str("failover", alt).Msg("shard unavailable, failing over")
	target = r.cfg.Topology.Resolve(alt)
	conn, err = r.cfg.Connector.Connect(ctx, target)
	if err == nil {
		return alt, conn, nil
	}
	if !errors.Is(err, storage.ErrUnavailable) {
		return "", nil, errors.Trace(err)
	}
	log.Error().Err(err).Str("shard", alt).Msg("failover shard unavailable")
	return "", nil, ErrServiceUnavailable
}

func (r *Router) other(shard string) string {
	if shard == r.cfg.Primary {
		return r.cfg.Overflow
	}
	return r.cfg.Primary
}
