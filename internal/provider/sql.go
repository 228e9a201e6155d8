package provider

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2" // registers the clickhouse driver
	"github.com/sirupsen/logrus"
)

const defaultQueryTimeout = 30 * time.Second

type sqlSource struct {
	log     logrus.FieldLogger
	dsn     string
	timeout time.Duration

	conn *sql.DB
}

// NewSQLSource creates a live source running each provider's query against
// ClickHouse.
func NewSQLSource(log logrus.FieldLogger, dsn string, timeout time.Duration) LiveSource {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}

	return &sqlSource{
		log:     log.WithField("component", "provider_sql"),
		dsn:     dsn,
		timeout: timeout,
	}
}

func (s *sqlSource) Start(ctx context.Context) error {
	conn, err := sql.Open("clickhouse", s.dsn)
	if err != nil {
		return fmt.Errorf("opening clickhouse connection: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("pinging clickhouse: %w", err)
	}

	s.conn = conn
	s.log.Info("sql live provider source started")

	return nil
}

func (s *sqlSource) Stop() error {
	if s.conn == nil {
		return nil
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("closing connection: %w", err)
	}

	return nil
}

func (s *sqlSource) Fetch(ctx context.Context, name, query string) (Table, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("%w: sql source not started", ErrNoLiveSource)
	}

	if query == "" {
		query = fmt.Sprintf("SELECT * FROM %s", name)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("getting columns: %w", err)
	}

	var table Table

	for rows.Next() {
		var (
			values    = make([]interface{}, len(columns))
			valuePtrs = make([]interface{}, len(columns))
		)

		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		table = append(table, rowToMap(columns, values))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return table, nil
}

// rowToMap stringifies a scanned row. NULL columns are left out so the
// property reads as absent.
func rowToMap(columns []string, values []interface{}) map[string]string {
	row := make(map[string]string, len(columns))

	for i, col := range columns {
		switch v := values[i].(type) {
		case nil:
			continue
		case []byte:
			row[col] = string(v)
		case time.Time:
			row[col] = v.Format(time.RFC3339)
		default:
			row[col] = fmt.Sprintf("%v", v)
		}
	}

	return row
}

var _ LiveSource = (*sqlSource)(nil)
