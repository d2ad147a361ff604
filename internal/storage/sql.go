package storage

import (
	"context"
	"database/sql"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"

	// database/sql drivers
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/dreamware/shardsync/internal/cluster"
	"github.com/dreamware/shardsync/internal/topology"
)

// Driver names accepted by SQLConnector.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// DriverMemory selects MemoryConnector in configuration.
const DriverMemory = "memory"

// DefaultTable is the record table shared by shards and replicas.
const DefaultTable = "demo"

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidTable reports whether name can be used as the record table name.
func ValidTable(name string) bool {
	return identRE.MatchString(name)
}

// SQLConnector opens database/sql connections to Postgres (pgx) or SQLite
// (modernc) stores. Every Connect opens its own *sql.DB limited to a single
// connection, so a Conn never shares handles with another operation.
type SQLConnector struct {
	Driver   string
	User     string
	Password string
	SSLMode  string
	Table    string
	// ConnectTimeout bounds the connect-and-ping handshake.
	ConnectTimeout time.Duration
	// Bootstrap creates the record table if it does not exist. Meant for
	// embedded stores; networked databases are provisioned externally.
	Bootstrap bool
}

// Connect implements Connector.
func (c *SQLConnector) Connect(ctx context.Context, target topology.Target) (Conn, error) {
	table := c.Table
	if table == "" {
		table = DefaultTable
	}
	if !ValidTable(table) {
		return nil, errors.NotValidf("table name %q", table)
	}
	dsn, err := c.dsn(target)
	if err != nil {
		return nil, errors.Trace(err)
	}
	db, err := sql.Open(c.Driver, dsn)
	if err != nil {
		return nil, unavailable(target, err)
	}
	db.SetMaxOpenConns(1)

	pingCtx := ctx
	if c.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, c.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, unavailable(target, err)
	}

	conn := &sqlConn{db: db, table: table, dialect: dialectFor(c.Driver)}
	if c.Bootstrap {
		if _, err := db.ExecContext(ctx, conn.dialect.schema(table)); err != nil {
			_ = db.Close()
			return nil, errors.Annotatef(err, "creating table %s on %s", table, target.Name)
		}
	}
	return conn, nil
}

func (c *SQLConnector) dsn(target topology.Target) (string, error) {
	switch c.Driver {
	case DriverPostgres:
		q := url.Values{}
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		q.Set("sslmode", sslMode)
		if c.ConnectTimeout > 0 {
			secs := int(c.ConnectTimeout.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			q.Set("connect_timeout", strconv.Itoa(secs))
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     target.Addr(),
			Path:     "/" + target.Database,
			RawQuery: q.Encode(),
		}
		return u.String(), nil
	case DriverSQLite:
		if target.Path == "" {
			return "", errors.NotValidf("sqlite store %q without path", target.Name)
		}
		return "file:" + target.Path + "?_pragma=busy_timeout(5000)", nil
	}
	return "", errors.NotSupportedf("store driver %q", c.Driver)
}

type dialect struct {
	driver string
}

func dialectFor(driver string) dialect {
	return dialect{driver: driver}
}

// bind rewrites $n placeholders for drivers that use '?'.
func (d dialect) bind(query string) string {
	if d.driver != DriverSQLite {
		return query
	}
	for i := 9; i >= 1; i-- {
		query = strings.ReplaceAll(query, "$"+strconv.Itoa(i), "?")
	}
	return query
}

func (d dialect) schema(table string) string {
	if d.driver == DriverSQLite {
		return `CREATE TABLE IF NOT EXISTS ` + table + ` (
    id     INTEGER PRIMARY KEY AUTOINCREMENT,
    data   TEXT,
    source TEXT
)`
	}
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
    id     SERIAL PRIMARY KEY,
    data   TEXT,
    source TEXT
)`
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlConn struct {
	db      *sql.DB
	tx      *sql.Tx
	table   string
	dialect dialect
}

func (c *sqlConn) reader() queryer {
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

func (c *sqlConn) writer(ctx context.Context) (queryer, error) {
	if c.tx == nil {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, errors.Trace(err)
		}
		c.tx = tx
	}
	return c.tx, nil
}

func (c *sqlConn) Count(ctx context.Context) (int, error) {
	var n int
	err := c.reader().QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(&n)
	if err != nil {
		return 0, errors.Annotate(err, "counting records")
	}
	return n, nil
}

func (c *sqlConn) Insert(ctx context.Context, data, source string) (int64, error) {
	w, err := c.writer(ctx)
	if err != nil {
		return 0, err
	}
	var id int64
	query := c.dialect.bind(`INSERT INTO ` + c.table + ` (data, source) VALUES ($1, $2) RETURNING id`)
	if err := w.QueryRowContext(ctx, query, data, source).Scan(&id); err != nil {
		return 0, errors.Annotate(err, "inserting record")
	}
	return id, nil
}

func (c *sqlConn) InsertRecord(ctx context.Context, rec cluster.Record) error {
	w, err := c.writer(ctx)
	if err != nil {
		return err
	}
	query := c.dialect.bind(`INSERT INTO ` + c.table + ` (id, data, source) VALUES ($1, $2, $3)`)
	if _, err := w.ExecContext(ctx, query, rec.ID, rec.Data, rec.Source); err != nil {
		return errors.Annotatef(err, "inserting record %d", rec.ID)
	}
	return nil
}

func (c *sqlConn) Records(ctx context.Context) ([]cluster.Record, error) {
	rows, err := c.reader().QueryContext(ctx, `SELECT id, data, source FROM `+c.table+` ORDER BY id`)
	if err != nil {
		return nil, errors.Annotate(err, "reading records")
	}
	defer rows.Close()

	var out []cluster.Record
	for rows.Next() {
		var (
			r      cluster.Record
			data   sql.NullString
			source sql.NullString
		)
		if err := rows.Scan(&r.ID, &data, &source); err != nil {
			return nil, errors.Trace(err)
		}
		r.Data, r.Source = data.String, source.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	return out, nil
}

func (c *sqlConn) IDs(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := c.reader().QueryContext(ctx, `SELECT id FROM `+c.table)
	if err != nil {
		return nil, errors.Annotate(err, "reading record ids")
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Trace(err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	return ids, nil
}

func (c *sqlConn) Commit() error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return errors.Annotate(tx.Commit(), "commit")
}

func (c *sqlConn) Close() error {
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	return c.db.Close()
}

var _ Connector = (*SQLConnector)(nil)
