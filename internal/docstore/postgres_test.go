package docstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/coachsync/internal/errors"
)

func TestBuildListQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    Query
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:     "no clauses",
			query:    Query{},
			wantSQL:  `SELECT data::text FROM "documents" WHERE collection = $1 ORDER BY id ASC`,
			wantArgs: []interface{}{"clients"},
		},
		{
			name:    "equal and sort desc",
			query:   Query{}.Where("tier", OpEqual, "gold").OrderBy("name", Desc),
			wantSQL: `SELECT data::text FROM "documents" WHERE collection = $1 AND (data -> $2) = $3::text::jsonb ORDER BY data -> $4 DESC, id ASC`,
			wantArgs: []interface{}{"clients", "tier", `"gold"`, "name"},
		},
		{
			name:    "in and limit",
			query:   Query{Limit: 5}.Where("age", OpIn, []int{1, 2}),
			wantSQL: `SELECT data::text FROM "documents" WHERE collection = $1 AND jsonb_build_array(data -> $2) <@ $3::text::jsonb ORDER BY id ASC LIMIT $4`,
			wantArgs: []interface{}{"clients", "age", "[1,2]", 5},
		},
		{
			name:    "not equal",
			query:   Query{}.Where("tier", OpNotEqual, "gold"),
			wantSQL: `SELECT data::text FROM "documents" WHERE collection = $1 AND (data -> $2) IS DISTINCT FROM $3::text::jsonb ORDER BY id ASC`,
			wantArgs: []interface{}{"clients", "tier", `"gold"`},
		},
		{
			name:    "range",
			query:   Query{}.Where("age", OpGreaterEqual, 18).Where("age", OpLess, 65),
			wantSQL: `SELECT data::text FROM "documents" WHERE collection = $1 AND (data -> $2) >= $3::text::jsonb AND (data -> $4) < $5::text::jsonb ORDER BY id ASC`,
			wantArgs: []interface{}{"clients", "age", "18", "age", "65"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := buildListQuery(`"documents"`, "clients", tt.query)
			require.NoError(t, err)
			require.Equal(t, tt.wantSQL, sql)
			require.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestBuildListQuery_Invalid(t *testing.T) {
	_, _, err := buildListQuery(`"documents"`, "clients", Query{}.Where("x", Operator("like"), "a%"))
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code apperrors.ErrorCode
	}{
		{"no rows", pgx.ErrNoRows, apperrors.ErrNotFound},
		{"deadline", context.DeadlineExceeded, apperrors.ErrRemoteTimeout},
		{"unique violation", &pgconn.PgError{Code: "23505"}, apperrors.ErrRemoteRejected},
		{"invalid json", &pgconn.PgError{Code: "22P02"}, apperrors.ErrRemoteRejected},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, apperrors.ErrRemoteUnavailable},
		{"other", fmt.Errorf("dial tcp: connection refused"), apperrors.ErrRemoteUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.code, apperrors.CodeOf(classify(tt.err)))
		})
	}
	require.NoError(t, classify(nil))
}

// TestPostgresStore runs against a live database when TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	table := fmt.Sprintf("documents_test_%d", time.Now().UnixNano())
	s, err := NewPostgresStore(ctx, PostgresConfig{DSN: dsn, Table: table, NotifyChannel: table})
	require.NoError(t, err)
	defer func() {
		_, _ = s.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+s.ident())
		s.Close()
	}()
	require.NoError(t, s.Ping(ctx))

	id, err := s.Create(ctx, "clients", Document{"name": "Ada", "age": 36}, "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = s.Create(ctx, "clients", Document{"name": "Bob", "age": 51}, "bob")
	require.NoError(t, err)

	doc, err := s.Get(ctx, "clients", id)
	require.NoError(t, err)
	require.Equal(t, "Ada", doc["name"])
	require.Equal(t, id, doc.ID())

	docs, err := s.List(ctx, "clients", Query{}.Where("age", OpGreater, 40))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "bob", docs[0].ID())

	docs, err = s.List(ctx, "clients", Query{}.Where("name", OpIn, []string{"Ada", "Bob"}).OrderBy("name", Desc))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "Bob", docs[0]["name"])

	require.NoError(t, s.Update(ctx, "clients", id, Document{"age": 37}))
	doc, err = s.Get(ctx, "clients", id)
	require.NoError(t, err)
	require.EqualValues(t, 37, doc["age"])
	require.Equal(t, "Ada", doc["name"])

	err = s.Update(ctx, "clients", "missing", Document{"x": 1})
	require.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	updates := make(chan []Document, 8)
	unsubscribe, err := s.Subscribe(ctx, "clients", Query{}, func(d []Document) { updates <- d })
	require.NoError(t, err)
	defer unsubscribe()

	select {
	case initial := <-updates:
		require.Len(t, initial, 2)
	case <-ctx.Done():
		t.Fatal("no initial snapshot")
	}

	require.NoError(t, s.Delete(ctx, "clients", "bob"))
	select {
	case after := <-updates:
		require.Len(t, after, 1)
	case <-ctx.Done():
		t.Fatal("no notification after delete")
	}

	err = s.Delete(ctx, "clients", "bob")
	require.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	require.False(t, strings.Contains(s.ident(), ";"))
}
