// Package cluster holds the record model shared by every shardsync component
// and the small JSON-over-HTTP helpers used to talk to peer services.
//
// # Records
//
// A Record is created by a routed write on exactly one shard. The shard
// assigns its ID; replicas receive the row with the same ID and never
// generate ids of their own:
//
//	write ──► shard1 (id=5, data-5, source=shard1)
//	                 │  replication tick
//	                 ▼
//	          replica1 (id=5, data-5, source=shard1)
//
// Reads return RecordView, which adds the replica that served the row.
// The search engine stores a Document with the same fields as the Record.
//
// # Transport
//
// JSONClient's PostJSON, PutJSON and GetJSON send and receive JSON with a
// bounded request timeout. Any status >= 300 is returned as *HTTPError so callers can tell a
// peer rejection from a transport failure.
package cluster
