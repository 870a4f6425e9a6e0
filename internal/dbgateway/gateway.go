// Package dbgateway is the typed wrapper over the relational database:
// query/get/update/DDL plus spatial import/export delegated to the
// external GDAL-family tools (ogr2ogr/ogrinfo) as subprocesses.
//
// Connection handling mirrors db/database.py's PostgreSQL class: a
// Gateway either opens its own short-lived *sql.Conn per call, or, when
// constructed via WithConnection, reuses the caller's already-acquired
// connection for the duration of the callback. This is the "scoped
// acquisition" design note (spec §9): a single *sql.Conn stands in for
// the Python __enter__/__exit__ connection-and-cursor pair.
package dbgateway

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/dpaw/resource-tracking/internal/logging"
)

// Gateway wraps a *sql.DB (and, inside a scoped acquisition, a borrowed
// *sql.Conn) with the query/get/update/DDL/count/spatial surface.
type Gateway struct {
	db        *sql.DB
	conn      *sql.Conn
	log       *logrus.Entry
	dsnParams dsnParams
}

// Open connects to the database using the parsed DSN in url (in
// postgres(is)://user[:pwd]@host[:port]/db form; both the postgres:// and
// postgis:// schemes are converted to a lib/pq key=value DSN, and any
// other scheme is rejected).
func Open(url string) (*Gateway, error) {
	params, err := parseDBConnectionString(url)
	if err != nil {
		return nil, err
	}
	dsn, err := normalizeDSN(url)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return &Gateway{db: db, log: logging.Named(logging.LoggerDB), dsnParams: params}, nil
}

// Close releases the underlying pool.
func (g *Gateway) Close() error {
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}

// WithConnection runs fn with a Gateway that reuses a single *sql.Conn
// for every call made inside fn, the way a Python "with db as d:" block
// pins one cursor for its body. Gateway methods called outside such a
// block each acquire and release their own connection.
func (g *Gateway) WithConnection(ctx context.Context, fn func(*Gateway) error) error {
	if g.conn != nil {
		// Already inside a scoped acquisition: reuse it, matching the
		// Python cursor-reentrancy check in query/get/update.
		return fn(g)
	}
	conn, err := g.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	scoped := &Gateway{db: g.db, conn: conn, log: g.log, dsnParams: g.dsnParams}
	return fn(scoped)
}

func (g *Gateway) queryer(ctx context.Context) interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
} {
	if g.conn != nil {
		return g.conn
	}
	return g.db
}

func (g *Gateway) execer(ctx context.Context) interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
} {
	if g.conn != nil {
		return g.conn
	}
	return g.db
}

// Query executes a SELECT and returns every row as a slice of columns.
func (g *Gateway) Query(ctx context.Context, query string) ([][]any, []string, error) {
	rows, err := g.queryer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, vals)
	}
	return out, cols, rows.Err()
}

// QueryMapped executes a SELECT and returns each row as a column-name-keyed
// map, the Go counterpart of db/database.py's query(sql, columns=...).
func (g *Gateway) QueryMapped(ctx context.Context, query string) ([]map[string]any, error) {
	rows, cols, err := g.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return mapRows(rows, cols), nil
}

// mapRows zips each row with cols into a column-name-keyed map, split out
// of QueryMapped so the zipping logic is testable without a live database.
func mapRows(rows [][]any, cols []string) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			m[c] = row[i]
		}
		out = append(out, m)
	}
	return out
}

// Get returns the first row of query, or nil if there are none.
func (g *Gateway) Get(ctx context.Context, query string) ([]any, []string, error) {
	rows, cols, err := g.Query(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, cols, nil
	}
	return rows[0], cols, nil
}

// UpdateOptions controls commit/rollback semantics for Update.
type UpdateOptions struct {
	// Commit is the default commit behavior; ignored when AutoCommit is true.
	Commit bool
	// AutoCommit runs the statement outside an explicit transaction.
	AutoCommit bool
}

// Update runs an INSERT/UPDATE/DELETE, returning the affected row count.
// On error the statement's transaction (when one was opened) is rolled
// back before the error is returned, matching db/database.py's _update.
func (g *Gateway) Update(ctx context.Context, query string, opts UpdateOptions) (int64, error) {
	commit := opts.Commit
	if opts.AutoCommit {
		commit = false
	}

	if opts.AutoCommit {
		res, err := g.execer(ctx).ExecContext(ctx, query)
		if err != nil {
			return 0, fmt.Errorf("update (autocommit): %w", err)
		}
		n, _ := res.RowsAffected()
		return n, nil
	}

	tx, err := g.beginTx(ctx)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("update: %w", err)
	}
	if commit {
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("commit: %w", err)
		}
	} else {
		if err := tx.Rollback(); err != nil {
			return 0, fmt.Errorf("rollback: %w", err)
		}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ExecuteDDL runs a DDL statement, committing on success and rolling
// back on failure.
func (g *Gateway) ExecuteDDL(ctx context.Context, ddl string) error {
	tx, err := g.beginTx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute ddl: %w", err)
	}
	return tx.Commit()
}

func (g *Gateway) beginTx(ctx context.Context) (*sql.Tx, error) {
	if g.conn != nil {
		return g.conn.BeginTx(ctx, nil)
	}
	return g.db.BeginTx(ctx, nil)
}

// Count returns the row count of a bare table/view identifier, or of an
// arbitrary SQL text wrapped as a subquery, per §4.2.
func (g *Gateway) Count(ctx context.Context, tableOrSQL string) (int64, error) {
	query := countQuery(tableOrSQL)
	row, _, err := g.Get(ctx, query)
	if err != nil {
		return 0, err
	}
	if len(row) == 0 {
		return 0, fmt.Errorf("count: no rows returned")
	}
	switch v := row[0].(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("count: unexpected type %T", row[0])
	}
}
