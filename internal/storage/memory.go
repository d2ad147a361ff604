package storage

import (
	"cmp"
	"context"
	"fmt"
	"sync"

	"github.com/juju/errors"
	"golang.org/x/exp/slices"

	"github.com/dreamware/shardsync/internal/cluster"
	"github.com/dreamware/shardsync/internal/topology"
)

// MemoryStore is an in-memory record table with a sequential id generator.
// It backs the "memory" driver and the tests, and can be switched off to
// simulate an unreachable store.
// Uses sync.RWMutex for thread-safe concurrent access.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   []cluster.Record // committed rows, ascending by id
	nextID int64
	down   bool
}

// NewMemoryStore creates an empty, reachable store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// SetAvailable toggles whether connections to the store succeed.
func (m *MemoryStore) SetAvailable(up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = !up
}

// Available reports whether connections currently succeed.
func (m *MemoryStore) Available() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.down
}

// Snapshot returns a copy of the committed rows.
func (m *MemoryStore) Snapshot() []cluster.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.rows)
}

// Len returns the number of committed rows.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

func (m *MemoryStore) allocID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	return id
}

func (m *MemoryStore) hasID(id int64) bool {
	_, found := slices.BinarySearchFunc(m.rows, id, func(r cluster.Record, id int64) int {
		return cmp.Compare(r.ID, id)
	})
	return found
}

func (m *MemoryStore) commit(staged []cluster.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrUnavailable
	}
	for _, r := range staged {
		if m.hasID(r.ID) {
			return errors.AlreadyExistsf("record id %d", r.ID)
		}
	}
	m.rows = append(m.rows, staged...)
	slices.SortFunc(m.rows, byID)
	if n := len(m.rows); n > 0 && m.rows[n-1].ID >= m.nextID {
		m.nextID = m.rows[n-1].ID + 1
	}
	return nil
}

func byID(a, b cluster.Record) int {
	return cmp.Compare(a.ID, b.ID)
}

// MemoryConnector hands out connections to a fixed set of MemoryStores keyed
// by logical store name.
type MemoryConnector struct {
	mu     sync.RWMutex
	stores map[string]*MemoryStore
}

// NewMemoryConnector creates one empty store per name.
func NewMemoryConnector(names ...string) *MemoryConnector {
	c := &MemoryConnector{stores: make(map[string]*MemoryStore, len(names))}
	for _, name := range names {
		c.stores[name] = NewMemoryStore()
	}
	return c
}

// Store returns the store registered under name, or nil.
func (c *MemoryConnector) Store(name string) *MemoryStore {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stores[name]
}

// Connect implements Connector.
func (c *MemoryConnector) Connect(ctx context.Context, target topology.Target) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(target, err)
	}
	store := c.Store(target.Name)
	if store == nil {
		return nil, unavailable(target, fmt.Errorf("no such store"))
	}
	if !store.Available() {
		return nil, unavailable(target, fmt.Errorf("connection refused"))
	}
	return &memConn{store: store}, nil
}

type memConn struct {
	store  *MemoryStore
	staged []cluster.Record
	closed bool
}

func (c *memConn) check(ctx context.Context) error {
	if c.closed {
		return errors.New("connection closed")
	}
	return ctx.Err()
}

func (c *memConn) Count(ctx context.Context) (int, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	return c.store.Len() + len(c.staged), nil
}

func (c *memConn) Insert(ctx context.Context, data, source string) (int64, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	id := c.store.allocID()
	c.staged = append(c.staged, cluster.Record{ID: id, Data: data, Source: source})
	return id, nil
}

func (c *memConn) InsertRecord(ctx context.Context, rec cluster.Record) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	for _, r := range c.staged {
		if r.ID == rec.ID {
			return errors.AlreadyExistsf("record id %d", rec.ID)
		}
	}
	c.store.mu.RLock()
	exists := c.store.hasID(rec.ID)
	c.store.mu.RUnlock()
	if exists {
		return errors.AlreadyExistsf("record id %d", rec.ID)
	}
	c.staged = append(c.staged, rec)
	return nil
}

func (c *memConn) Records(ctx context.Context) ([]cluster.Record, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	out := append(c.store.Snapshot(), c.staged...)
	slices.SortStableFunc(out, byID)
	return out, nil
}

func (c *memConn) IDs(ctx context.Context) (map[int64]struct{}, error) {
	records, err := c.Records(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[int64]struct{}, len(records))
	for _, r := range records {
		ids[r.ID] = struct{}{}
	}
	return ids, nil
}

func (c *memConn) Commit() error {
	if c.closed {
		return errors.New("connection closed")
	}
	if len(c.staged) == 0 {
		return nil
	}
	if err := c.store.commit(c.staged); err != nil {
		return err
	}
	c.staged = nil
	return nil
}

func (c *memConn) Close() error {
	c.staged = nil
	c.closed = true
	return nil
}

var _ Connector = (*MemoryConnector)(nil)
