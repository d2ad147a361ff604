package storage

import (
	"context"
	"fmt"

	"github.com/juju/errors"

	"github.com/dreamware/shardsync/internal/cluster"
	"github.com/dreamware/shardsync/internal/topology"
)

// ErrUnavailable is matched (errors.Is) by every failure to reach a store.
const ErrUnavailable = errors.ConstError("store unavailable")

// UnavailableError reports a store that could not be connected.
type UnavailableError struct {
	Store string
	Addr  string
	Err   error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store %s at %s unavailable", e.Store, e.Addr)
	}
	return fmt.Sprintf("store %s at %s unavailable: %v", e.Store, e.Addr, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is makes every UnavailableError match ErrUnavailable.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func unavailable(target topology.Target, err error) error {
	return &UnavailableError{Store: target.Name, Addr: target.Addr(), Err: err}
}

// Connector opens a connection to one logical store.
// A Conn is scoped to a single operation: callers Close it before returning.
type Connector interface {
	// Connect returns an error matching ErrUnavailable when the store
	// cannot be reached.
	Connect(ctx context.Context, target topology.Target) (Conn, error)
}

// Conn is the relational store capability used by the router, the
// replication daemon and the read aggregator.
// Writes are staged until Commit; Close discards anything uncommitted.
type Conn interface {
	// Count returns the number of records in the store.
	Count(ctx context.Context) (int, error)

	// Insert adds a record and returns the id the store assigned to it.
	Insert(ctx context.Context, data, source string) (int64, error)

	// InsertRecord adds a record keeping its id. Used to copy rows into a
	// replica.
	InsertRecord(ctx context.Context, rec cluster.Record) error

	// Records returns every record, ascending by id.
	Records(ctx context.Context) ([]cluster.Record, error)

	// IDs returns the set of ids present in the store.
	IDs(ctx context.Context) (map[int64]struct{}, error)

	// Commit makes staged writes durable.
	Commit() error

	// Close releases the connection, rolling back uncommitted writes.
	Close() error
}
