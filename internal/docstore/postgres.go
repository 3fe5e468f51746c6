package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/kimhsiao/coachsync/internal/errors"
	"github.com/kimhsiao/coachsync/internal/logging"
	"github.com/kimhsiao/coachsync/internal/uuid"
)

// PostgresConfig configures a PostgresStore.
type PostgresConfig struct {
	DSN           string
	MaxConns      int32
	Table         string
	NotifyChannel string
}

const (
	defaultTable         = "documents"
	defaultNotifyChannel = "coachsync_documents"
)

// PostgresStore keeps documents as JSONB rows keyed by (collection, id)
// and fans out changes with LISTEN/NOTIFY.
type PostgresStore struct {
	pool    *pgxpool.Pool
	table   string
	channel string
	owned   bool
}

// NewPostgresStore connects, verifies the connection and creates the
// documents table if needed.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "parse postgres dsn", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, classify(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify(err)
	}

	s, err := NewPostgresStoreFromPool(ctx, pool, cfg.Table, cfg.NotifyChannel)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewPostgresStoreFromPool wraps an existing pool. The caller keeps
// ownership of the pool.
func NewPostgresStoreFromPool(ctx context.Context, pool *pgxpool.Pool, table, channel string) (*PostgresStore, error) {
	if table == "" {
		table = defaultTable
	}
	if channel == "" {
		channel = defaultNotifyChannel
	}
	s := &PostgresStore{pool: pool, table: table, channel: channel}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (collection, id)
	)`, s.ident())
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "create documents table", err)
	}
	return nil
}

// Close releases the pool if the store created it.
func (s *PostgresStore) Close() {
	if s.owned {
		s.pool.Close()
	}
}

// Ping implements Pinger.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, collection string, data Document, id string) (string, error) {
	if collection == "" {
		return "", apperrors.New(apperrors.ErrValidation, "collection is required")
	}
	if id == "" {
		id = uuid.New()
	}
	doc := data.Clone()
	if doc == nil {
		doc = Document{}
	}
	doc[IDField] = id

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "encode document", err)
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (collection, id, data, updated_at)
	VALUES ($1, $2, $3::text::jsonb, now())
	ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`, s.ident())
	if _, err := s.pool.Exec(ctx, query, collection, id, string(raw)); err != nil {
		return "", classify(err)
	}

	s.notify(ctx, collection)
	return id, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	query := fmt.Sprintf(`SELECT data::text FROM %s WHERE collection = $1 AND id = $2`, s.ident())

	var raw string
	if err := s.pool.QueryRow(ctx, query, collection, id).Scan(&raw); err != nil {
		return nil, classify(err)
	}
	return decodeDocument(raw)
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, collection string, q Query) ([]Document, error) {
	query, args, err := buildListQuery(s.ident(), collection, q)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, classify(err)
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return docs, nil
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, collection, id string, patch Document) error {
	p := patch.Clone()
	delete(p, IDField)
	raw, err := json.Marshal(p)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode patch", err)
	}

	query := fmt.Sprintf(`
	UPDATE %s SET data = data || $3::text::jsonb, updated_at = now()
	WHERE collection = $1 AND id = $2`, s.ident())
	tag, err := s.pool.Exec(ctx, query, collection, id, string(raw))
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.notify(ctx, collection)
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE collection = $1 AND id = $2`, s.ident())
	tag, err := s.pool.Exec(ctx, query, collection, id)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.notify(ctx, collection)
	return nil
}

// Subscribe implements Store. It holds one pooled connection in LISTEN
// mode for the lifetime of the subscription.
func (s *PostgresStore) Subscribe(ctx context.Context, collection string, q Query, fn func([]Document)) (func(), error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "subscription callback is required")
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, classify(err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, classify(err)
	}

	initial, err := s.List(ctx, collection, q)
	if err != nil {
		conn.Release()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		fn(initial)
		for {
			n, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					logging.Error("Document subscription stopped", err,
						map[string]interface{}{"collection": collection})
				}
				return
			}
			if n.Payload != collection {
				continue
			}
			docs, err := s.List(subCtx, collection, q)
			if err != nil {
				logging.Warn("Document subscription refresh failed",
					map[string]interface{}{"collection": collection, "error": err.Error()})
				continue
			}
			fn(docs)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			unlistenCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			if _, err := conn.Exec(unlistenCtx, "UNLISTEN *"); err != nil {
				// Connection state is unknown; drop it from the pool.
				conn.Conn().Close(unlistenCtx)
			}
			conn.Release()
		})
	}, nil
}

func (s *PostgresStore) notify(ctx context.Context, collection string) {
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, s.channel, collection); err != nil {
		logging.Warn("Failed to publish document change",
			map[string]interface{}{"collection": collection, "error": err.Error()})
	}
}

func decodeDocument(raw string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "decode document", err)
	}
	return doc, nil
}

var sqlOperators = map[Operator]string{
	OpEqual:        "=",
	OpNotEqual:     "<>",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
}

// buildListQuery renders q as SQL over the data column. Field names and
// values are always bound as parameters.
func buildListQuery(table, collection string, q Query) (string, []interface{}, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	args := []interface{}{collection}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT data::text FROM %s WHERE collection = $1", table)

	for _, f := range q.Filters {
		raw, err := json.Marshal(f.Value)
		if err != nil {
			return "", nil, apperrors.Wrap(apperrors.ErrInvalid, "encode filter value", err)
		}
		field := next(f.Field)
		value := next(string(raw))

		switch f.Op {
		case OpIn:
			fmt.Fprintf(&sb, " AND jsonb_build_array(data -> %s) <@ %s::text::jsonb", field, value)
		case OpNotEqual:
			fmt.Fprintf(&sb, " AND (data -> %s) IS DISTINCT FROM %s::text::jsonb", field, value)
		default:
			fmt.Fprintf(&sb, " AND (data -> %s) %s %s::text::jsonb", field, sqlOperators[f.Op], value)
		}
	}

	sb.WriteString(" ORDER BY ")
	for _, srt := range q.Sorts {
		dir := "ASC"
		if Direction(strings.ToLower(string(srt.Direction))) == Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, "data -> %s %s, ", next(srt.Field), dir)
	}
	sb.WriteString("id ASC")

	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %s", next(q.Limit))
	}
	return sb.String(), args, nil
}

// classify maps driver errors onto the sync error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return apperrors.Wrap(apperrors.ErrRemoteTimeout, "postgres request timed out", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"), strings.HasPrefix(pgErr.Code, "42"):
			// data exception, integrity violation, syntax/access rule
			return apperrors.Wrap(apperrors.ErrRemoteRejected, "postgres rejected request", err)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"), strings.HasPrefix(pgErr.Code, "57"):
			return apperrors.Wrap(apperrors.ErrRemoteUnavailable, "postgres unavailable", err)
		}
	}
	return apperrors.Wrap(apperrors.ErrRemoteUnavailable, "postgres request failed", err)
}
