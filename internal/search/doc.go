// Package search mirrors committed records into an Elasticsearch compatible
// engine and answers phrase queries against it.
//
// Client speaks the engine's REST API. Propagator publishes documents off
// the write path with a bounded retry budget, so an engine outage never
// fails or delays a write. Searcher runs phrase queries on the data field
// and surfaces engine failures to the caller.
//
// Documents are keyed "<source>-<id>" because shard id sequences overlap.
package search
