package activity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

// Store is the interface for reading and writing session history.
type Store interface {
	// WriteEntries appends entries. Entries whose EventID already exists are skipped.
	WriteEntries(ctx context.Context, entries []Entry) error

	// QueryBySession returns a session's entries, newest first.
	QueryBySession(ctx context.Context, sessionID string, opts QueryOptions) (entries []Entry, nextCursor string, totalCount int, err error)
}

const tableName = "activity_entries"

// SQLiteStore implements Store on a SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// CreateTable creates the activity_entries table and its session index.
func (s *SQLiteStore) CreateTable(ctx context.Context) error {
	b := entsql.Dialect(dialect.SQLite)
	create, args := b.CreateTable(tableName).
		IfNotExists().
		Columns(
			entsql.Column("event_id").Type("TEXT").Attr("NOT NULL"),
			entsql.Column("event_type").Type("TEXT").Attr("NOT NULL"),
			entsql.Column("session_id").Type("TEXT").Attr("NOT NULL"),
			entsql.Column("occurred_at").Type("TEXT").Attr("NOT NULL"),
			entsql.Column("summary").Type("TEXT").Attr("NOT NULL"),
			entsql.Column("payload").Type("TEXT"),
		).
		PrimaryKey("event_id").
		Query()
	if _, err := s.db.ExecContext(ctx, create, args...); err != nil {
		return fmt.Errorf("creating %s: %w", tableName, err)
	}

	index, args := b.CreateIndex("idx_activity_session_time").
		IfNotExists().
		Table(tableName).
		Columns("session_id", "occurred_at").
		Query()
	if _, err := s.db.ExecContext(ctx, index, args...); err != nil {
		return fmt.Errorf("creating session index: %w", err)
	}
	return nil
}

// WriteEntries inserts entries in a single statement.
func (s *SQLiteStore) WriteEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	ins := entsql.Dialect(dialect.SQLite).
		Insert(tableName).
		Columns("event_id", "event_type", "session_id", "occurred_at", "summary", "payload")
	for _, e := range entries {
		var payload any
		if len(e.Payload) > 0 {
			payload = string(e.Payload)
		}
		ins.Values(e.EventID, e.EventType, e.SessionID, formatTime(e.OccurredAt), e.Summary, payload)
	}
	ins.OnConflict(entsql.DoNothing())
	query, args := ins.Query()
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// QueryBySession returns entries for a session with filtering and pagination.
func (s *SQLiteStore) QueryBySession(ctx context.Context, sessionID string, opts QueryOptions) ([]Entry, string, int, error) {
	preds := []*entsql.Predicate{entsql.EQ("session_id", sessionID)}
	if opts.Since != nil {
		preds = append(preds, entsql.GTE("occurred_at", formatTime(*opts.Since)))
	}
	if len(opts.Types) > 0 {
		types := make([]any, len(opts.Types))
		for i, t := range opts.Types {
			types[i] = t
		}
		preds = append(preds, entsql.In("event_type", types...))
	}

	count, countArgs := entsql.Dialect(dialect.SQLite).
		Select(entsql.Count("*")).
		From(entsql.Table(tableName)).
		Where(entsql.And(preds...)).
		Query()
	var total int
	if err := s.db.QueryRowContext(ctx, count, countArgs...).Scan(&total); err != nil {
		return nil, "", 0, fmt.Errorf("counting entries: %w", err)
	}

	if opts.Cursor != "" {
		preds = append(preds, entsql.LT("occurred_at", opts.Cursor))
	}
	limit := opts.limit()
	sel, args := entsql.Dialect(dialect.SQLite).
		Select("event_id", "event_type", "session_id", "occurred_at", "summary", "payload").
		From(entsql.Table(tableName)).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Desc("occurred_at")).
		Limit(limit + 1).
		Query()

	rows, err := s.db.QueryContext(ctx, sel, args...)
	if err != nil {
		return nil, "", 0, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			at      string
			payload sql.NullString
		)
		if err := rows.Scan(&e.EventID, &e.EventType, &e.SessionID, &at, &e.Summary, &payload); err != nil {
			return nil, "", 0, fmt.Errorf("scanning entry: %w", err)
		}
		if e.OccurredAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, "", 0, fmt.Errorf("parsing occurred_at %q: %w", at, err)
		}
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", 0, err
	}

	var nextCursor string
	if len(entries) > limit {
		entries = entries[:limit]
		nextCursor = formatTime(entries[len(entries)-1].OccurredAt)
	}
	return entries, nextCursor, total, nil
}

// formatTime renders a sortable, fixed-width UTC timestamp.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
