package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardsync/internal/cluster"
	"github.com/dreamware/shardsync/internal/topology"
)

func target(name string) topology.Target {
	return topology.Target{Name: name, Host: name + "-db", Port: 5432}
}

// TestMemoryStore tests the in-memory store implementation
func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("new store is empty", func(t *testing.T) {
		c := NewMemoryConnector("shard1")
		conn, err := c.Connect(ctx, target("shard1"))
		require.NoError(t, err)
		defer conn.Close()

		n, err := conn.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		records, err := conn.Records(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("insert assigns sequential ids", func(t *testing.T) {
		c := NewMemoryConnector("shard1")
		conn, err := c.Connect(ctx, target("shard1"))
		require.NoError(t, err)
		defer conn.Close()

		for i := 1; i <= 3; i++ {
			id, err := conn.Insert(ctx, fmt.Sprintf("data-%d", i), "shard1")
			require.NoError(t, err)
			assert.Equal(t, int64(i), id)
		}
		require.NoError(t, conn.Commit())

		assert.Equal(t, []cluster.Record{
			{ID: 1, Data: "data-1", Source: "shard1"},
			{ID: 2, Data: "data-2", Source: "shard1"},
			{ID: 3, Data: "data-3", Source: "shard1"},
		}, c.Store("shard1").Snapshot())
	})

	t.Run("close without commit discards writes", func(t *testing.T) {
		c := NewMemoryConnector("shard1")
		conn, err := c.Connect(ctx, target("shard1"))
		require.NoError(t, err)

		_, err = conn.Insert(ctx, "data-1", "shard1")
		require.NoError(t, err)

		// Staged rows are visible on the same connection
		n, err := conn.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		require.NoError(t, conn.Close())
		assert.Equal(t, 0, c.Store("shard1").Len())

		_, err = conn.Count(ctx)
		assert.Error(t, err, "closed connection must not be usable")
	})

	t.Run("insert record keeps id", func(t *testing.T) {
		c := NewMemoryConnector("replica1")
		conn, err := c.Connect(ctx, target("replica1"))
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.InsertRecord(ctx, cluster.Record{ID: 7, Data: "data-7", Source: "shard1"}))
		require.NoError(t, conn.InsertRecord(ctx, cluster.Record{ID: 3, Data: "data-3", Source: "shard1"}))
		require.NoError(t, conn.Commit())

		ids, err := conn.IDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[int64]struct{}{3: {}, 7: {}}, ids)

		records, err := conn.Records(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, int64(3), records[0].ID)
		assert.Equal(t, int64(7), records[1].ID)
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		c := NewMemoryConnector("replica1")
		conn, err := c.Connect(ctx, target("replica1"))
		require.NoError(t, err)
		defer conn.Close()

		rec := cluster.Record{ID: 1, Data: "data-1", Source: "shard1"}
		require.NoError(t, conn.InsertRecord(ctx, rec))
		err = conn.InsertRecord(ctx, rec)
		assert.True(t, errors.Is(err, errors.AlreadyExists), "got %v", err)

		require.NoError(t, conn.Commit())
		err = conn.InsertRecord(ctx, rec)
		assert.True(t, errors.Is(err, errors.AlreadyExists), "got %v", err)
	})
}

// TestMemoryConnectorUnavailable verifies the outage simulation.
func TestMemoryConnectorUnavailable(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryConnector("shard1", "shard2")
	c.Store("shard1").SetAvailable(false)

	_, err := c.Connect(ctx, target("shard1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))

	var unavailableErr *UnavailableError
	require.ErrorAs(t, err, &unavailableErr)
	assert.Equal(t, "shard1", unavailableErr.Store)
	assert.Equal(t, "shard1-db:5432", unavailableErr.Addr)
	assert.Contains(t, err.Error(), "shard1-db:5432")

	// Unknown stores are unavailable too
	_, err = c.Connect(ctx, target("shard9"))
	assert.True(t, errors.Is(err, ErrUnavailable))

	// Cancelled contexts do not connect
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.Connect(cancelled, target("shard2"))
	assert.True(t, errors.Is(err, ErrUnavailable))

	// Recovery
	c.Store("shard1").SetAvailable(true)
	conn, err := c.Connect(ctx, target("shard1"))
	require.NoError(t, err)
	conn.Close()
}

// TestMemoryCommitAfterOutage verifies that a store going down before commit loses the staged rows.
func TestMemoryCommitAfterOutage(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryConnector("shard1")

	conn, err := c.Connect(ctx, target("shard1"))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Insert(ctx, "data-1", "shard1")
	require.NoError(t, err)

	c.Store("shard1").SetAvailable(false)
	err = conn.Commit()
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, 0, c.Store("shard1").Len())
}

// TestMemoryStoreConcurrentInserts verifies thread-safety of concurrent writers.
func TestMemoryStoreConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryConnector("shard1")

	var wg sync.WaitGroup
	numWriters := 10
	perWriter := 20

	for w := 0; w < numWriters; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			conn, err := c.Connect(ctx, target("shard1"))
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()
			for i := 0; i < perWriter; i++ {
				_, err := conn.Insert(ctx, fmt.Sprintf("w%d-%d", w, i), "shard1")
				assert.NoError(t, err)
			}
			assert.NoError(t, conn.Commit())
		}(w)
	}
	wg.Wait()

	rows := c.Store("shard1").Snapshot()
	require.Len(t, rows, numWriters*perWriter)
	seen := make(map[int64]bool)
	for i, r := range rows {
		assert.False(t, seen[r.ID], "duplicate id %d", r.ID)
		seen[r.ID] = true
		if i > 0 {
			assert.Less(t, rows[i-1].ID, r.ID)
		}
	}
}
