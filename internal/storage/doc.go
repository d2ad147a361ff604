// Package storage defines the relational store capability used by shardsync
// and its implementations.
//
// # Capability
//
// Components never hold a long-lived handle. Each operation asks a Connector
// for a Conn, uses it, and closes it before returning:
//
//	conn, err := connector.Connect(ctx, topo.Resolve("shard1"))
//	if errors.Is(err, storage.ErrUnavailable) {
//	    // choose a fallback: fail over, skip the pair, skip the replica
//	}
//	defer conn.Close()
//	id, err := conn.Insert(ctx, "data-5", "shard1")
//	...
//	err = conn.Commit()
//
// Writes are staged until Commit. Close rolls back anything uncommitted, so
// a failed operation leaves no partial rows behind.
//
// # Implementations
//
// SQLConnector: database/sql over two drivers
//   - "pgx" (github.com/jackc/pgx/v5/stdlib) for networked Postgres shards
//     and replicas, addressed by host, port and database name
//   - "sqlite" (modernc.org/sqlite) for embedded stores addressed by file
//     path, with optional table bootstrap
//
// MemoryConnector: in-memory stores with sequential ids
//   - Used by the "memory" driver and by tests
//   - A store can be switched off with SetAvailable(false) to simulate an
//     outage
package storage
