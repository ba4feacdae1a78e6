package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/eternovinculo/visitguard"
	"github.com/eternovinculo/visitguard/counter"
)

// DefaultTables maps each kind to the table holding its published profiles.
// Every table has columns slug (unique), is_published and visit_count.
var DefaultTables = map[visitguard.Kind]string{
	visitguard.KindProfile: "profiles",
	visitguard.KindFamily:  "family_profiles",
	visitguard.KindCouple:  "couple_profiles",
}

type queries struct {
	incr string
	get  string
}

// Counter increments visit_count in place; the UPDATE ... RETURNING is atomic
// in the database, so concurrent requests never lose a visit.
type Counter struct {
	db *sqlx.DB
	q  map[visitguard.Kind]queries
}

var _ counter.Counter = (*Counter)(nil)

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string, tables map[visitguard.Kind]string) (*Counter, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres counter: connect: %w", err)
	}
	return New(db, tables), nil
}

// New wraps an existing handle. A nil tables map uses DefaultTables.
func New(db *sqlx.DB, tables map[visitguard.Kind]string) *Counter {
	if tables == nil {
		tables = DefaultTables
	}
	q := make(map[visitguard.Kind]queries, len(tables))
	for kind, table := range tables {
		t := pq.QuoteIdentifier(table)
		q[kind] = queries{
			incr: "UPDATE " + t + " SET visit_count = visit_count + 1 WHERE slug = $1 AND is_published RETURNING visit_count",
			get:  "SELECT visit_count FROM " + t + " WHERE slug = $1 AND is_published",
		}
	}
	return &Counter{db: db, q: q}
}

func (c *Counter) queries(kind visitguard.Kind) (queries, error) {
	q, ok := c.q[kind]
	if !ok {
		return queries{}, fmt.Errorf("postgres counter: no table for kind %q", kind)
	}
	return q, nil
}

func (c *Counter) Increment(ctx context.Context, kind visitguard.Kind, slug string) (int64, error) {
	q, err := c.queries(kind)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := c.db.QueryRowxContext(ctx, q.incr, slug).Scan(&n); err != nil {
		return 0, wrap("increment", err)
	}
	return n, nil
}

func (c *Counter) Get(ctx context.Context, kind visitguard.Kind, slug string) (int64, error) {
	q, err := c.queries(kind)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := c.db.GetContext(ctx, &n, q.get, slug); err != nil {
		return 0, wrap("get", err)
	}
	return n, nil
}

func (c *Counter) Close() error { return c.db.Close() }

func wrap(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return counter.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("postgres counter: %s: %s (%s): %w", op, pqErr.Code.Name(), pqErr.Code, err)
	}
	return fmt.Errorf("postgres counter: %s: %w", op, err)
}
