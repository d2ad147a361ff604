// Package topology resolves logical store names to physical connection
// targets and holds the fixed shard to replica mapping.
//
// Two address tables exist, one per deployment Mode:
//
//	name      networked           local
//	shard1    shard1-db:5432      localhost:5433
//	shard2    shard2-db:5432      localhost:5434
//	replica1  replica1-db:5432    localhost:5436
//	replica2  replica2-db:5432    localhost:5437
//
// A Topology is built once at startup from configuration and injected into
// the router, the replication daemon and the read aggregator. Resolving a
// name that is not in the table panics: names come from the same
// configuration that built the table, so a miss is a bug, not a runtime
// condition.
package topology
