package postgres

import (
	"context"
	"errors"
	"os"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternovinculo/visitguard"
	"github.com/eternovinculo/visitguard/counter"
)

func newMock(t *testing.T) (*Counter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(sqlx.NewDb(db, "postgres"), nil), mock
}

const incrFamily = `UPDATE "family_profiles" SET visit_count = visit_count + 1 WHERE slug = $1 AND is_published RETURNING visit_count`

func TestIncrement(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(incrFamily)).
		WithArgs("garcia-lopez").
		WillReturnRows(sqlmock.NewRows([]string{"visit_count"}).AddRow(42))

	n, err := c.Increment(context.Background(), visitguard.KindFamily, "garcia-lopez")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestIncrementUnknownSlug(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(incrFamily)).
		WithArgs("nadie").
		WillReturnRows(sqlmock.NewRows([]string{"visit_count"}))

	_, err := c.Increment(context.Background(), visitguard.KindFamily, "nadie")
	assert.ErrorIs(t, err, counter.ErrNotFound)
}

func TestIncrementDatabaseError(t *testing.T) {
	c, mock := newMock(t)
	pqErr := &pq.Error{Code: "42P01", Message: `relation "family_profiles" does not exist`}
	mock.ExpectQuery(regexp.QuoteMeta(incrFamily)).WithArgs("x").WillReturnError(pqErr)

	_, err := c.Increment(context.Background(), visitguard.KindFamily, "x")
	require.Error(t, err)
	assert.False(t, errors.Is(err, counter.ErrNotFound))
	assert.Contains(t, err.Error(), "undefined_table")

	var got *pq.Error
	assert.True(t, errors.As(err, &got))
}

func TestGet(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT visit_count FROM "profiles" WHERE slug = $1 AND is_published`)).
		WithArgs("abc123").
		WillReturnRows(sqlmock.NewRows([]string{"visit_count"}).AddRow(7))

	n, err := c.Get(context.Background(), visitguard.KindProfile, "abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestCustomTablesAndUnknownKind(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := New(sqlx.NewDb(db, "postgres"), map[visitguard.Kind]string{visitguard.KindProfile: "public_profiles"})
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE "public_profiles" SET`)).
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows([]string{"visit_count"}).AddRow(1))

	_, err = c.Increment(context.Background(), visitguard.KindProfile, "abc")
	require.NoError(t, err)

	_, err = c.Increment(context.Background(), visitguard.KindCouple, "abc")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}
	ctx := context.Background()
	c, err := Open(ctx, dsn, map[visitguard.Kind]string{visitguard.KindProfile: "visitguard_test_profiles"})
	require.NoError(t, err)
	defer c.Close()
	// temp tables live on one connection
	c.db.SetMaxOpenConns(1)

	_, err = c.db.ExecContext(ctx, `CREATE TEMP TABLE visitguard_test_profiles (
		slug text PRIMARY KEY,
		is_published boolean NOT NULL,
		visit_count bigint NOT NULL DEFAULT 0
	)`)
	require.NoError(t, err)
	_, err = c.db.ExecContext(ctx, `INSERT INTO visitguard_test_profiles (slug, is_published) VALUES ('pub', true), ('draft', false)`)
	require.NoError(t, err)

	n, err := c.Increment(ctx, visitguard.KindProfile, "pub")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = c.Increment(ctx, visitguard.KindProfile, "draft")
	assert.ErrorIs(t, err, counter.ErrNotFound)
	_, err = c.Get(ctx, visitguard.KindProfile, "missing")
	assert.ErrorIs(t, err, counter.ErrNotFound)
}
