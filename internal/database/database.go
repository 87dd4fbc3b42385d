package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// timeLayout is fixed-width so that stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const dateLayout = "2006-01-02"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds the data access methods. They run against the pool or,
// inside WithTx, against a single transaction.
type Queries struct {
	q      querier
	driver string
}

// DB wraps the database connection and provides methods for data access.
type DB struct {
	*Queries
	conn *sql.DB
}

// Tx is a Queries bound to an open transaction.
type Tx struct {
	*Queries
	tx *sql.Tx
}

// NewDB opens a connection for driver and initializes the schema. For
// sqlite3 the dsn is a file path, for postgres a connection URL.
func NewDB(driver, dsn string) (*DB, error) {
	var (
		conn *sql.DB
		err  error
	)

	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		conn, err = sql.Open("sqlite3", dsn+"?_foreign_keys=1")
	case DriverPostgres:
		conn, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY
		// between concurrent transactions.
		conn.SetMaxOpenConns(1)
	}

	db := NewFromConn(conn, driver)

	if err := db.initSchema(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// NewFromConn wraps an existing connection without touching the schema.
func NewFromConn(conn *sql.DB, driver string) *DB {
	return &DB{
		Queries: &Queries{q: conn, driver: driver},
		conn:    conn,
	}
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// SetMaxOpenConns caps the connection pool.
func (db *DB) SetMaxOpenConns(n int) {
	if n > 0 && db.driver != DriverSQLite {
		db.conn.SetMaxOpenConns(n)
	}
}

// Driver returns the name of the underlying driver.
func (db *DB) Driver() string {
	return db.driver
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &Tx{Queries: &Queries{q: sqlTx, driver: db.driver}, tx: sqlTx}
	if err := fn(tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (q *Queries) rebind(query string) string {
	if q.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.q.ExecContext(ctx, q.rebind(query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.q.QueryContext(ctx, q.rebind(query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.q.QueryRowContext(ctx, q.rebind(query), args...)
}

// insert runs an INSERT ... RETURNING id and returns the generated id.
func (q *Queries) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := q.queryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema(ctx context.Context) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.driver == DriverPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS offers (
			id {{PK}},
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			brand_id BIGINT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chains (
			id {{PK}},
			title TEXT NOT NULL,
			brand_id BIGINT NOT NULL,
			first_offer_id BIGINT NOT NULL REFERENCES offers(id),
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (title, brand_id)
		)`,
		`CREATE TABLE IF NOT EXISTS chain_offers (
			chain_id BIGINT NOT NULL REFERENCES chains(id) ON DELETE CASCADE,
			offer_id BIGINT NOT NULL REFERENCES offers(id),
			position INTEGER NOT NULL,
			level INTEGER,
			PRIMARY KEY (chain_id, offer_id)
		)`,
		`CREATE TABLE IF NOT EXISTS offer_sequences (
			id {{PK}},
			chain_id BIGINT NOT NULL REFERENCES chains(id) ON DELETE CASCADE,
			current_offer_id BIGINT NOT NULL REFERENCES offers(id),
			next_offer_id BIGINT NOT NULL REFERENCES offers(id),
			days_to_add INTEGER NOT NULL,
			position INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offer_sequences_source ON offer_sequences(chain_id, current_offer_id, position)`,
		`CREATE TABLE IF NOT EXISTS payee_names (
			id {{PK}},
			name TEXT NOT NULL,
			brand_id BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS campaigns (
			id {{PK}},
			code TEXT NOT NULL,
			country TEXT NOT NULL DEFAULT '',
			mail_date TEXT,
			chain_id BIGINT REFERENCES chains(id) ON DELETE SET NULL,
			brand_id BIGINT,
			is_extracted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS campaign_offers (
			id {{PK}},
			campaign_id BIGINT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
			offer_id BIGINT NOT NULL REFERENCES offers(id),
			return_address TEXT NOT NULL DEFAULT '',
			payee_name_id BIGINT REFERENCES payee_names(id),
			printer TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL DEFAULT '',
			purchase_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			UNIQUE (campaign_id, offer_id)
		)`,
		`CREATE TABLE IF NOT EXISTS client_offers (
			id {{PK}},
			client_id BIGINT NOT NULL,
			offer_id BIGINT NOT NULL REFERENCES offers(id),
			chain_id BIGINT REFERENCES chains(id) ON DELETE SET NULL,
			campaign_id BIGINT REFERENCES campaigns(id) ON DELETE SET NULL,
			original_offer_id BIGINT REFERENCES offers(id),
			available_at TEXT,
			is_activated BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_client_offers_offer_created ON client_offers(offer_id, created_at)`,
	}

	for _, query := range queries {
		query = strings.ReplaceAll(query, "{{PK}}", pk)
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339, s)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
