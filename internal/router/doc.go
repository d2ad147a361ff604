// Package router places new records on a shard.
//
// # Placement
//
// The primary shard takes writes until it holds Threshold records; after
// that every write goes to the overflow shard:
//
//	count(primary) < threshold  ──►  primary
//	count(primary) >= threshold ──►  overflow
//
// The count is read at the start of each write. It is not reserved, so two
// concurrent writes may both observe count = threshold-1 and both land on
// the primary. An unreachable primary counts as empty.
//
// # Failover
//
// If the chosen shard cannot be connected the write is retried once on the
// other shard, and the result reports the shard that actually committed:
//
//	want=shard1 ──connect──✗──► shard2 ──connect──✓──► written_to=shard2
//	want=shard1 ──connect──✗──► shard2 ──connect──✗──► ErrServiceUnavailable
//
// Only connection failures fail over. An insert or commit that fails on a
// connected shard is returned as is, with nothing persisted.
//
// # Search propagation
//
// After commit the record is handed to the Publisher with the committed
// shard as its source. Publish does not block and its outcome never changes
// the write result.
package router
