package storage

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardsync/internal/cluster"
	"github.com/dreamware/shardsync/internal/topology"
)

func sqliteConnector() *SQLConnector {
	return &SQLConnector{
		Driver:         DriverSQLite,
		Table:          DefaultTable,
		ConnectTimeout: 2 * time.Second,
		Bootstrap:      true,
	}
}

func sqliteTarget(t *testing.T, name string) topology.Target {
	return topology.Target{Name: name, Path: filepath.Join(t.TempDir(), name+".db")}
}

// TestSQLiteInsertCommitRead exercises the full capability against an embedded database.
func TestSQLiteInsertCommitRead(t *testing.T) {
	ctx := context.Background()
	c := sqliteConnector()
	shard := sqliteTarget(t, "shard1")

	conn, err := c.Connect(ctx, shard)
	require.NoError(t, err)

	n, err := conn.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	id1, err := conn.Insert(ctx, "data-1", "shard1")
	require.NoError(t, err)
	id2, err := conn.Insert(ctx, "data-2", "shard1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id1)
	assert.Equal(t, int64(2), id2)
	require.NoError(t, conn.Commit())
	require.NoError(t, conn.Close())

	// A fresh connection sees the committed rows
	conn, err = c.Connect(ctx, shard)
	require.NoError(t, err)
	defer conn.Close()

	records, err := conn.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, []cluster.Record{
		{ID: 1, Data: "data-1", Source: "shard1"},
		{ID: 2, Data: "data-2", Source: "shard1"},
	}, records)

	ids, err := conn.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]struct{}{1: {}, 2: {}}, ids)
}

// TestSQLiteRollbackOnClose verifies that uncommitted writes never persist.
func TestSQLiteRollbackOnClose(t *testing.T) {
	ctx := context.Background()
	c := sqliteConnector()
	shard := sqliteTarget(t, "shard1")

	conn, err := c.Connect(ctx, shard)
	require.NoError(t, err)
	_, err = conn.Insert(ctx, "data-1", "shard1")
	require.NoError(t, err)

	// Visible inside the transaction
	n, err := conn.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, conn.Close())

	conn, err = c.Connect(ctx, shard)
	require.NoError(t, err)
	defer conn.Close()
	n, err = conn.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// TestSQLiteInsertRecordKeepsID verifies the replica copy path.
func TestSQLiteInsertRecordKeepsID(t *testing.T) {
	ctx := context.Background()
	c := sqliteConnector()
	replica := sqliteTarget(t, "replica1")

	conn, err := c.Connect(ctx, replica)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.InsertRecord(ctx, cluster.Record{ID: 5, Data: "data-5", Source: "shard1"}))
	require.NoError(t, conn.InsertRecord(ctx, cluster.Record{ID: 2, Data: "data-2", Source: "shard1"}))
	require.NoError(t, conn.Commit())

	records, err := conn.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(2), records[0].ID)
	assert.Equal(t, int64(5), records[1].ID)

	// Primary key conflicts surface as errors
	err = conn.InsertRecord(ctx, cluster.Record{ID: 5, Data: "dup", Source: "shard1"})
	assert.Error(t, err)
}

// TestSQLiteUnreachable verifies that a store that cannot be opened reports ErrUnavailable.
func TestSQLiteUnreachable(t *testing.T) {
	c := sqliteConnector()
	missing := topology.Target{Name: "shard1", Path: filepath.Join(t.TempDir(), "no-such-dir", "shard1.db")}

	_, err := c.Connect(context.Background(), missing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable), "got %v", err)
}

// TestSQLConnectorDSN covers the connection strings built for each driver.
func TestSQLConnectorDSN(t *testing.T) {
	t.Run("postgres", func(t *testing.T) {
		c := &SQLConnector{Driver: DriverPostgres, User: "user", Password: "p@ss", ConnectTimeout: 3 * time.Second}
		dsn, err := c.dsn(topology.Target{Name: "shard1", Host: "shard1-db", Port: 5432, Database: "shard1"})
		require.NoError(t, err)

		u, err := url.Parse(dsn)
		require.NoError(t, err)
		assert.Equal(t, "postgres", u.Scheme)
		assert.Equal(t, "shard1-db:5432", u.Host)
		assert.Equal(t, "/shard1", u.Path)
		assert.Equal(t, "user", u.User.Username())
		pass, _ := u.User.Password()
		assert.Equal(t, "p@ss", pass)
		assert.Equal(t, "disable", u.Query().Get("sslmode"))
		assert.Equal(t, "3", u.Query().Get("connect_timeout"))
	})

	t.Run("sqlite", func(t *testing.T) {
		c := &SQLConnector{Driver: DriverSQLite}
		dsn, err := c.dsn(topology.Target{Name: "shard1", Path: "/tmp/shard1.db"})
		require.NoError(t, err)
		assert.Equal(t, "file:/tmp/shard1.db?_pragma=busy_timeout(5000)", dsn)

		_, err = c.dsn(topology.Target{Name: "shard1"})
		assert.True(t, errors.Is(err, errors.NotValid))
	})

	t.Run("unknown driver", func(t *testing.T) {
		c := &SQLConnector{Driver: "oracle"}
		_, err := c.dsn(topology.Target{Name: "shard1"})
		assert.True(t, errors.Is(err, errors.NotSupported))
	})
}

// TestSQLConnectorRejectsBadTable guards the table name interpolated into queries.
func TestSQLConnectorRejectsBadTable(t *testing.T) {
	c := sqliteConnector()
	c.Table = "demo; DROP TABLE demo"
	_, err := c.Connect(context.Background(), sqliteTarget(t, "shard1"))
	assert.True(t, errors.Is(err, errors.NotValid))

	assert.True(t, ValidTable("demo"))
	assert.True(t, ValidTable("_records2"))
	assert.False(t, ValidTable("2records"))
	assert.False(t, ValidTable(""))
}

// TestDialectBind checks placeholder rewriting.
func TestDialectBind(t *testing.T) {
	q := `INSERT INTO demo (id, data, source) VALUES ($1, $2, $3)`
	assert.Equal(t, q, dialectFor(DriverPostgres).bind(q))
	assert.Equal(t, `INSERT INTO demo (id, data, source) VALUES (?, ?, ?)`, dialectFor(DriverSQLite).bind(q))
}
