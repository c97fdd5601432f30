package connector

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/tabular"
)

// sqlConnector serves the postgres, mysql and mssql source types through
// one database/sql implementation; only the driver name and DSN shape
// differ per type.
type sqlConnector struct {
	sourceType domain.SourceType
}

func (c *sqlConnector) driverName() string {
	switch c.sourceType {
	case domain.SourcePostgres:
		return "pgx"
	case domain.SourceMySQL:
		return "mysql"
	default:
		return "sqlserver"
	}
}

func (c *sqlConnector) defaultPort() string {
	switch c.sourceType {
	case domain.SourcePostgres:
		return "5432"
	case domain.SourceMySQL:
		return "3306"
	default:
		return "1433"
	}
}

func (c *sqlConnector) dsn(creds map[string]string) (string, error) {
	host := creds["host"]
	if host == "" {
		return "", fmt.Errorf("%s source: missing host", c.sourceType)
	}
	port := creds["port"]
	if port == "" {
		port = c.defaultPort()
	}
	user := creds["username"]
	pass := creds["password"]
	database := creds["database"]

	switch c.sourceType {
	case domain.SourceMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", user, pass, host, port, database), nil
	case domain.SourcePostgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(user, pass),
			Host:   host + ":" + port,
			Path:   "/" + database,
		}
		return u.String(), nil
	default:
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(user, pass),
			Host:     host + ":" + port,
			RawQuery: url.Values{"database": {database}}.Encode(),
		}
		return u.String(), nil
	}
}

func (c *sqlConnector) query(src domain.SourceConfig) string {
	if src.Query != "" {
		return src.Query
	}
	return "SELECT * FROM " + src.Table
}

func (c *sqlConnector) open(creds map[string]string) (*sql.DB, error) {
	dsn, err := c.dsn(creds)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(c.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.sourceType, err)
	}
	return db, nil
}

func (c *sqlConnector) Fetch(ctx context.Context, src domain.SourceConfig) (*tabular.Table, error) {
	it, err := c.FetchStream(ctx, src, DefaultChunkSize)
	if err != nil {
		return nil, err
	}
	return Collect(ctx, it)
}

// FetchStream runs the query once and pages the result set off the server
// cursor, chunkSize rows at a time.
func (c *sqlConnector) FetchStream(ctx context.Context, src domain.SourceConfig, chunkSize int) (ChunkIterator, error) {
	db, err := c.open(src.Credentials)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, c.query(src))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s query: %w", c.sourceType, err)
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		db.Close()
		return nil, fmt.Errorf("%s columns: %w", c.sourceType, err)
	}
	return &rowIterator{db: db, rows: rows, columns: columns, chunkSize: chunkSize}, nil
}

// TestConnection opens the database and runs SELECT 1.
func (c *sqlConnector) TestConnection(ctx context.Context, creds map[string]string) TestResult {
	db, err := c.open(creds)
	if err != nil {
		return TestResult{Status: "failed", Message: err.Error()}
	}
	defer db.Close()
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return TestResult{Status: "failed", Message: err.Error()}
	}
	return TestResult{Status: "success", Message: "connection established"}
}

// rowIterator pages a live sql.Rows cursor into tables.
type rowIterator struct {
	db        *sql.DB
	rows      *sql.Rows
	columns   []string
	chunkSize int
	done      bool
}

func (it *rowIterator) Next(ctx context.Context) (*tabular.Table, error) {
	if it.done {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chunk := tabular.New(it.columns...)
	for len(chunk.Rows) < it.chunkSize {
		if !it.rows.Next() {
			it.done = true
			if err := it.rows.Err(); err != nil {
				return nil, fmt.Errorf("scan rows: %w", err)
			}
			break
		}
		values := make([]any, len(it.columns))
		ptrs := make([]any, len(it.columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := it.rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(it.columns))
		for i, col := range it.columns {
			row[col] = normalizeSQLValue(values[i])
		}
		chunk.Rows = append(chunk.Rows, row)
	}
	if len(chunk.Rows) == 0 {
		return nil, nil
	}
	return chunk, nil
}

func (it *rowIterator) Close() error {
	it.rows.Close()
	return it.db.Close()
}

// normalizeSQLValue maps driver-specific scan results onto the tabular
// value set. Byte slices become strings.
func normalizeSQLValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
