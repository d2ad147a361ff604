// Package replication keeps each replica converging on its shard.
//
// The Daemon wakes on a fixed interval and, for every shard/replica pair,
// inserts into the replica the shard records whose ids it does not have yet.
// Copying is insert-only and keeps the shard's id, so repeated ticks are
// idempotent and a replica never holds an id its shard lacks. Rows changed
// on the shard after they were copied are not updated in the replica.
//
// Pairs are independent. A pair whose shard or replica cannot be reached is
// skipped for the tick and retried on the next one.
//
// Stop ends the loop and gives an in-flight tick a bounded time to finish
// before aborting it through its context; an aborted tick commits nothing
// for the pairs it had not finished.
package replication
