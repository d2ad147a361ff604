package replication

import (
	"context"

	"github.com/juju/errors"

	"github.com/dreamware/shardsync/internal/topology"
)

// SyncPair copies every shard record whose id the replica lacks, keeping the
// id, and commits once. Rows already in the replica are never touched.
//
// Any failure skips the pair: nothing is committed and the status carries
// the reason.
func (d *Daemon) SyncPair(ctx context.Context, pair topology.Pair) PairStatus {
	status := PairStatus{Shard: pair.Shard, Replica: pair.Replica}
	n, err := d.syncPair(ctx, pair)
	if err != nil {
		status.Skipped = true
		status.Error = err.Error()
		d.metrics.PairSkipped(pair.Shard, pair.Replica)
		d.logger.Warn().Err(err).Str("pair", pair.String()).Msg("skipping replication pair")
		return status
	}
	status.Copied = n
	d.metrics.Copied(pair.Shard, pair.Replica, n)
	if n > 0 {
		d.logger.Info().Str("pair", pair.String()).Int("copied", n).Msg("records replicated")
	}
	return status
}

func (d *Daemon) syncPair(ctx context.Context, pair topology.Pair) (int, error) {
	src, err := d.connector.Connect(ctx, d.topo.Resolve(pair.Shard))
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer src.Close()

	dst, err := d.connector.Connect(ctx, d.topo.Resolve(pair.Replica))
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer dst.Close()

	records, err := src.Records(ctx)
	if err != nil {
		return 0, errors.Annotatef(err, "reading %s", pair.Shard)
	}
	have, err := dst.IDs(ctx)
	if err != nil {
		return 0, errors.Annotatef(err, "reading ids from %s", pair.Replica)
	}

	copied := 0
	for _, rec := range records {
		if _, ok := have[rec.ID]; ok {
			continue
		}
		if err := dst.InsertRecord(ctx, rec); err != nil {
			return 0, errors.Annotatef(err, "copying id %d to %s", rec.ID, pair.Replica)
		}
		copied++
	}
	if copied == 0 {
		return 0, nil
	}
	if err := dst.Commit(); err != nil {
		return 0, errors.Annotatef(err, "committing %s", pair.Replica)
	}
	return copied, nil
}
