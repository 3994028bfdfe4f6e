package warehouse

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/analyst-bot/internal/models"
)

func newTestWarehouse(t *testing.T, maxRows int) *SQLClient {
	t.Helper()
	ctx := context.Background()
	client, err := Open(ctx, Config{Driver: "sqlite", DSN: ":memory:", Database: "analytics", MaxRows: maxRows}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	for _, stmt := range []string{
		`CREATE TABLE sales (id INTEGER PRIMARY KEY, region TEXT NOT NULL, amount REAL)`,
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT)`,
		`INSERT INTO sales (region, amount) VALUES ('north', 10.5), ('south', 20), ('north', 4.5)`,
	} {
		_, err := client.db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	return client
}

func TestSQLClient_Execute(t *testing.T) {
	client := newTestWarehouse(t, 100)

	table, err := client.Execute(context.Background(),
		`SELECT region, SUM(amount) AS total FROM sales GROUP BY region ORDER BY region`)
	require.NoError(t, err)

	assert.Equal(t, []string{"region", "total"}, table.Columns)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "north", table.Rows[0][0])
	assert.InDelta(t, 15.0, table.Rows[0][1], 0.001)
	assert.False(t, table.Truncated)
}

func TestSQLClient_ExecuteTruncates(t *testing.T) {
	client := newTestWarehouse(t, 2)

	table, err := client.Execute(context.Background(), `SELECT * FROM sales`)
	require.NoError(t, err)
	assert.Len(t, table.Rows, 2)
	assert.True(t, table.Truncated)
}

func TestSQLClient_ExecuteMissingTable(t *testing.T) {
	client := newTestWarehouse(t, 10)

	_, err := client.Execute(context.Background(), `SELECT * FROM orders`)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindMissingObject, Classify(err))
}

func TestSQLClient_DescribeSchema(t *testing.T) {
	client := newTestWarehouse(t, 10)

	catalog, err := client.DescribeSchema(context.Background())
	require.NoError(t, err)

	require.Len(t, catalog.Tables, 2)
	assert.Equal(t, "customers", catalog.Tables[0].Name)
	sales := catalog.Tables[1]
	assert.Equal(t, "sales", sales.Name)
	require.Len(t, sales.Columns, 3)
	assert.Equal(t, "region", sales.Columns[1].Name)
	assert.Equal(t, "TEXT", sales.Columns[1].Type)
	assert.False(t, sales.Columns[1].Nullable)
}

func TestSQLClient_Closed(t *testing.T) {
	client := newTestWarehouse(t, 10)
	require.NoError(t, client.Close())

	_, err := client.Execute(context.Background(), `SELECT 1`)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, models.ErrKindUnavailable, Classify(err))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"}, zap.NewNop())
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{"nil", nil, models.ErrKindNone},
		{"pq undefined table", &pq.Error{Code: "42P01", Message: `relation "orders" does not exist`}, models.ErrKindMissingObject},
		{"pq insufficient privilege", &pq.Error{Code: "42501", Message: "permission denied for table sales"}, models.ErrKindPermission},
		{"pq syntax", &pq.Error{Code: "42601", Message: "syntax error at or near"}, models.ErrKindSyntax},
		{"pq connection", &pq.Error{Code: "08006", Message: "connection failure"}, models.ErrKindUnavailable},
		{"wrapped pq", fmt.Errorf("exec: %w", &pq.Error{Code: "42501"}), models.ErrKindPermission},
		{"text permission", errors.New("SQL access control error: Insufficient privileges to operate on table 'SALES'"), models.ErrKindPermission},
		{"text missing", errors.New("Object 'SALES' does not exist or not authorized."), models.ErrKindPermission},
		{"text invalid identifier", errors.New("SQL compilation error: invalid identifier 'REGIONZ'"), models.ErrKindMissingObject},
		{"deadline", context.DeadlineExceeded, models.ErrKindTimeout},
		{"other", errors.New("division by zero"), models.ErrKindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestNewOpener(t *testing.T) {
	open := NewOpener(Config{Driver: "sqlite"}, zap.NewNop())
	_, err := open(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)

	open = NewOpener(Config{Driver: "sqlite", DSN: ":memory:"}, zap.NewNop())
	client, err := open(context.Background())
	require.NoError(t, err)
	assert.NoError(t, client.Close())
}
