// Package reader serves the merged record view from the replicas.
package reader

import (
	"cmp"
	"context"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/shardsync/internal/cluster"
	"github.com/dreamware/shardsync/internal/metrics"
	"github.com/dreamware/shardsync/internal/storage"
	"github.com/dreamware/shardsync/internal/topology"
)

// Aggregator reads every replica and merges the rows.
type Aggregator struct {
	topo      *topology.Topology
	connector storage.Connector
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// New returns an Aggregator over the replicas of topo.
func New(topo *topology.Topology, connector storage.Connector, logger zerolog.Logger, m *metrics.Metrics) (*Aggregator, error) {
	if topo == nil || connector == nil {
		return nil, errors.NotValidf("aggregator without topology or connector")
	}
	return &Aggregator{topo: topo, connector: connector, logger: logger, metrics: m}, nil
}

// ReadAll returns the rows of every reachable replica, ascending by id.
// Replicas that cannot be connected or queried are left out; the read
// still succeeds, possibly empty. Rows with equal ids keep the topology's
// replica order.
func (a *Aggregator) ReadAll(ctx context.Context) []cluster.RecordView {
	replicas := a.topo.Replicas()
	parts := make([][]cluster.RecordView, len(replicas))

	var g errgroup.Group
	for i, name := range replicas {
		i, name := i, name
		g.Go(func() error {
			rows, err := a.readReplica(ctx, name)
			if err != nil {
				a.metrics.ReadSkipped(name)
				a.logger.Warn().Err(err).Str("replica", name).Msg("skipping replica")
				return nil
			}
			parts[i] = rows
			return nil
		})
	}
	_ = g.Wait()

	out := make([]cluster.RecordView, 0)
	for _, p := range parts {
		out = append(out, p...)
	}
	slices.SortStableFunc(out, func(x, y cluster.RecordView) int {
		return cmp.Compare(x.ID, y.ID)
	})
	return out
}

func (a *Aggregator) readReplica(ctx context.Context, name string) ([]cluster.RecordView, error) {
	conn, err := a.connector.Connect(ctx, a.topo.Resolve(name))
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer conn.Close()

	records, err := conn.Records(ctx)
	if err != nil {
		return nil, errors.Annotatef(err, "reading %s", name)
	}
	views := make([]cluster.RecordView, len(records))
	for i, r := range records {
		views[i] = r.View(name)
	}
	return views, nil
}
