package source

import (
	"context"
	"database/sql"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/matthewbaird/cascade/internal/cascade"
)

// importBatchSize keeps multi-row inserts under SQLite's bound parameter limit.
const importBatchSize = 200

// SQLSource reads records from a single SQLite table. Every column becomes a
// record field; NULL columns are treated as absent.
type SQLSource struct {
	db    *sql.DB
	table string
	query Query
}

// NewSQLSource creates a SQLSource over table.
func NewSQLSource(db *sql.DB, table string, q Query) *SQLSource {
	return &SQLSource{db: db, table: table, query: q}
}

// Fetch selects the filtered, limited rows of the table in storage order.
func (s *SQLSource) Fetch(ctx context.Context) ([]cascade.Record, error) {
	sel := entsql.Dialect(dialect.SQLite).
		Select().
		From(entsql.Table(s.table))
	if s.query.Filter.Field != "" {
		sel.Where(entsql.EQ(s.query.Filter.Field, s.query.Filter.Value))
	}
	sel.Limit(s.query.limit())
	query, args := sel.Query()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", s.table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading %s columns: %w", s.table, err)
	}

	var records []cascade.Record
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", s.table, err)
		}
		rec := make(cascade.Record, len(cols))
		for i, v := range vals {
			if v.Valid {
				rec[cols[i]] = v.String
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s rows: %w", s.table, err)
	}
	return records, nil
}

// Import creates the table if needed, with one TEXT column per field seen in
// records, and appends the records in order. It returns the number written.
func (s *SQLSource) Import(ctx context.Context, records []cascade.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var cols []string
	seen := make(map[string]bool)
	for _, r := range records {
		for _, f := range sortedFields(r) {
			if !seen[f] {
				seen[f] = true
				cols = append(cols, f)
			}
		}
	}

	columns := make([]*entsql.ColumnBuilder, len(cols))
	for i, c := range cols {
		columns[i] = entsql.Column(c).Type("TEXT")
	}
	create, createArgs := entsql.Dialect(dialect.SQLite).
		CreateTable(s.table).
		IfNotExists().
		Columns(columns...).
		Query()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, create, createArgs...); err != nil {
		return 0, fmt.Errorf("creating %s: %w", s.table, err)
	}

	for start := 0; start < len(records); start += importBatchSize {
		end := min(start+importBatchSize, len(records))
		ins := entsql.Dialect(dialect.SQLite).Insert(s.table).Columns(cols...)
		for _, r := range records[start:end] {
			vals := make([]any, len(cols))
			for i, c := range cols {
				if v, ok := r.Get(c); ok {
					vals[i] = v
				}
			}
			ins.Values(vals...)
		}
		insert, insertArgs := ins.Query()
		if _, err := tx.ExecContext(ctx, insert, insertArgs...); err != nil {
			return 0, fmt.Errorf("inserting into %s: %w", s.table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(records), nil
}
