// Package warehouse is the database client the analyst runs queries against.
// It owns the live connection; capabilities only borrow it.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xaenox/analyst-bot/internal/models"
)

// ErrNotConnected is returned by a client whose connection has been closed.
var ErrNotConnected = errors.New("warehouse: not connected")

// Client is the narrow surface the core needs from the warehouse.
type Client interface {
	Execute(ctx context.Context, query string) (*models.Table, error)
	DescribeSchema(ctx context.Context) (*models.Catalog, error)
	Close() error
}

// Opener creates a dedicated connection for one session.
type Opener func(ctx context.Context) (Client, error)

// NewOpener returns an Opener that dials cfg on every call.
func NewOpener(cfg Config, logger *zap.Logger) Opener {
	return func(ctx context.Context) (Client, error) {
		if cfg.DSN == "" {
			return nil, ErrNotConnected
		}
		client, err := Open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Config describes a warehouse connection.
type Config struct {
	Driver   string // postgres or sqlite
	DSN      string
	Database string
	Schema   string
	MaxRows  int
}

// SQLClient implements Client over database/sql.
type SQLClient struct {
	db      *sql.DB
	driver  string
	dbName  string
	schema  string
	maxRows int
	logger  *zap.Logger
}

// Open connects and pings the warehouse.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*SQLClient, error) {
	switch cfg.Driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported warehouse driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("error opening warehouse: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// one connection so in-memory databases are shared by every query
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the warehouse: %w", err)
	}

	return NewSQLClient(db, cfg, logger), nil
}

// NewSQLClient wraps an existing connection pool.
func NewSQLClient(db *sql.DB, cfg Config, logger *zap.Logger) *SQLClient {
	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = 1000
	}
	return &SQLClient{
		db:      db,
		driver:  cfg.Driver,
		dbName:  cfg.Database,
		schema:  cfg.Schema,
		maxRows: maxRows,
		logger:  logger,
	}
}

func (c *SQLClient) Execute(ctx context.Context, query string) (*models.Table, error) {
	if c.db == nil {
		return nil, ErrNotConnected
	}

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	table := &models.Table{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		if len(table.Rows) >= c.maxRows {
			table.Truncated = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		table.Rows = append(table.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	c.logger.Debug("Executed warehouse query",
		zap.Int("rows", len(table.Rows)),
		zap.Bool("truncated", table.Truncated))
	return table, nil
}

func (c *SQLClient) DescribeSchema(ctx context.Context) (*models.Catalog, error) {
	if c.db == nil {
		return nil, ErrNotConnected
	}
	if c.driver == "sqlite" {
		return c.describeSQLite(ctx)
	}
	return c.describeInformationSchema(ctx)
}

func (c *SQLClient) describeInformationSchema(ctx context.Context) (*models.Catalog, error) {
	schema := c.schema
	if schema == "" {
		schema = "public"
	}

	query := `
		SELECT table_schema, table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position`

	rows, err := c.db.QueryContext(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("error querying information_schema: %w", err)
	}
	defer rows.Close()

	catalog := &models.Catalog{Database: c.dbName}
	index := make(map[string]int)
	for rows.Next() {
		var tableSchema, tableName, column, dataType, nullable string
		if err := rows.Scan(&tableSchema, &tableName, &column, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("error scanning column: %w", err)
		}
		i, ok := index[tableName]
		if !ok {
			i = len(catalog.Tables)
			index[tableName] = i
			catalog.Tables = append(catalog.Tables, models.TableInfo{
				Database: c.dbName,
				Schema:   tableSchema,
				Name:     tableName,
			})
		}
		catalog.Tables[i].Columns = append(catalog.Tables[i].Columns, models.Column{
			Name:     column,
			Type:     dataType,
			Nullable: nullable == "YES",
		})
	}
	return catalog, rows.Err()
}

func (c *SQLClient) describeSQLite(ctx context.Context) (*models.Catalog, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("error listing tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning table name: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(names)

	catalog := &models.Catalog{Database: c.dbName}
	for _, name := range names {
		table := models.TableInfo{Database: c.dbName, Name: name}
		colRows, err := c.db.QueryContext(ctx, `SELECT name, type, "notnull" FROM pragma_table_info(?)`, name)
		if err != nil {
			return nil, fmt.Errorf("error describing table %s: %w", name, err)
		}
		for colRows.Next() {
			var col models.Column
			var notNull int
			if err := colRows.Scan(&col.Name, &col.Type, &notNull); err != nil {
				colRows.Close()
				return nil, fmt.Errorf("error scanning column of %s: %w", name, err)
			}
			col.Nullable = notNull == 0
			table.Columns = append(table.Columns, col)
		}
		colRows.Close()
		catalog.Tables = append(catalog.Tables, table)
	}
	return catalog, nil
}

func (c *SQLClient) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
