package source

import (
	"database/sql"
	"fmt"
	"strings"
)

// Source kinds accepted by Open.
const (
	KindCSV    = "csv"
	KindSQLite = "sqlite"
	KindHTTP   = "http"
)

// Options selects and locates a record source.
type Options struct {
	Kind      string  // csv (default), sqlite or http
	Path      string  // CSV file
	DB        *sql.DB // sqlite
	Table     string  // sqlite table, default "records"
	URL       string  // http endpoint
	TokenFile string  // optional bearer token file for http
}

// Open builds the configured source, wrapped in a Cached.
func Open(opts Options, q Query) (*Cached, error) {
	var (
		src Source
		err error
	)
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case "", KindCSV:
		if opts.Path == "" {
			return nil, fmt.Errorf("csv source requires a path")
		}
		src = NewCSVFile(opts.Path, q)
	case KindSQLite:
		if opts.DB == nil {
			return nil, fmt.Errorf("sqlite source requires a database")
		}
		table := opts.Table
		if table == "" {
			table = "records"
		}
		src = NewSQLSource(opts.DB, table, q)
	case KindHTTP:
		var token string
		if opts.TokenFile != "" {
			if token, err = ReadTokenFile(opts.TokenFile); err != nil {
				return nil, err
			}
		}
		if src, err = NewHTTPSource(opts.URL, token, q); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown source kind %q", opts.Kind)
	}
	return NewCached(src), nil
}
