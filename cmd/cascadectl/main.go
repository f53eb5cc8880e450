package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/matthewbaird/cascade/internal/cascade"
	"github.com/matthewbaird/cascade/internal/config"
	"github.com/matthewbaird/cascade/internal/source"
)

func main() {
	_ = godotenv.Load()
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 2
	}

	switch args[0] {
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	case "import":
		return runImport(ctx, args[1:], stdout, stderr)
	case "options":
		return runOptions(ctx, args[1:], stdout, stderr)
	case "resolve":
		return runResolve(ctx, args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n\n", args[0])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintf(w, `cascadectl: offline tooling for cascading selection controls

Usage:
  cascadectl <command> [flags]

Commands:
  import   Load a CSV file into a SQLite table
  options  List candidate values for a chain position
  resolve  Resolve a selection (or an identity) to its output record

Examples:
  cascadectl import --csv vehicles.csv --db file:cascade.db --table records
  cascadectl options --config cascade.yaml --csv vehicles.csv --select Ford --position 1
  cascadectl resolve --config cascade.yaml --csv vehicles.csv --select Ford,Fiesta
  cascadectl resolve --config cascade.yaml --csv vehicles.csv --identity 42

Environment:
  CASCADE_CONFIG  Default --config path
  DATABASE_URL    Default --db DSN

`)
}

// sourceFlags are shared by options and resolve.
type sourceFlags struct {
	configPath string
	csvPath    string
	dsn        string
	table      string
}

func (f *sourceFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", envOr("CASCADE_CONFIG", "cascade.yaml"), "Control configuration file (env: CASCADE_CONFIG)")
	fs.StringVar(&f.csvPath, "csv", "", "Read records from this CSV file")
	fs.StringVar(&f.dsn, "db", envOr("DATABASE_URL", ""), "Read records from this SQLite DSN when --csv is not set (env: DATABASE_URL)")
	fs.StringVar(&f.table, "table", "records", "SQLite table")
}

// load reads the configuration and builds a controller over the fetched records.
func (f *sourceFlags) load(ctx context.Context, identity string) (*cascade.Controller, config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, config.Config{}, err
	}

	opts := source.Options{Kind: source.KindCSV, Path: f.csvPath, Table: f.table}
	if f.csvPath == "" {
		if f.dsn == "" {
			return nil, cfg, fmt.Errorf("one of --csv or --db is required")
		}
		db, err := sql.Open("sqlite", f.dsn)
		if err != nil {
			return nil, cfg, err
		}
		defer db.Close()
		opts.Kind = source.KindSQLite
		opts.DB = db
	}
	src, err := source.Open(opts, cfg.SourceQuery())
	if err != nil {
		return nil, cfg, err
	}
	records, err := src.Fetch(ctx)
	if err != nil {
		return nil, cfg, err
	}
	if len(records) == 0 {
		return nil, cfg, source.ErrNoRecords
	}

	c := cascade.NewController(cfg.Settings(), nil)
	c.Load(cascade.NewStore(records), identity)
	return c, cfg, nil
}

// applySelection selects each comma-separated value in chain order.
func applySelection(c *cascade.Controller, selection string) error {
	if strings.TrimSpace(selection) == "" {
		return nil
	}
	for i, v := range strings.Split(selection, ",") {
		if _, err := c.Select(i, strings.TrimSpace(v)); err != nil {
			return err
		}
	}
	return nil
}

func runImport(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var csvPath, dsn, table string
	fs.StringVar(&csvPath, "csv", "", "Input CSV file with a header row")
	fs.StringVar(&dsn, "db", envOr("DATABASE_URL", "file:cascade.db"), "SQLite DSN (env: DATABASE_URL)")
	fs.StringVar(&table, "table", "records", "Destination table")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if csvPath == "" {
		_, _ = fmt.Fprintln(stderr, "missing required flag: --csv")
		return 2
	}

	in, err := os.Open(csvPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open csv: %v\n", err)
		return 1
	}
	defer in.Close()
	records, err := source.ReadCSV(in)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", csvPath, err)
		return 1
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open database: %v\n", err)
		return 1
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	n, err := source.NewSQLSource(db, table, source.Query{}).Import(ctx, records)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "import: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "imported %d records into %s\n", n, table)
	return 0
}

func runOptions(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("options", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var sf sourceFlags
	sf.register(fs)
	var position int
	var selection, query string
	fs.IntVar(&position, "position", 0, "Chain position to list")
	fs.StringVar(&selection, "select", "", "Comma-separated upstream selection")
	fs.StringVar(&query, "q", "", "Case-insensitive substring filter")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	c, _, err := sf.load(ctx, "")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load: %v\n", err)
		return 1
	}
	if err := applySelection(c, selection); err != nil {
		_, _ = fmt.Fprintf(stderr, "select: %v\n", err)
		return 1
	}
	if position < 0 || position >= c.Settings().Chain.Active() {
		_, _ = fmt.Fprintf(stderr, "position %d: %v\n", position, cascade.ErrPositionInvalid)
		return 1
	}
	for _, o := range cascade.SearchOptions(c.Options(position), query) {
		_, _ = fmt.Fprintln(stdout, o)
	}
	return 0
}

type resolveResult struct {
	Selection []string             `json:"selection"`
	Output    *cascade.Output      `json:"output"`
	Lookup    *cascade.LookupValue `json:"lookup,omitempty"`
}

func runResolve(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var sf sourceFlags
	sf.register(fs)
	var selection, identity string
	fs.StringVar(&selection, "select", "", "Comma-separated selection in chain order")
	fs.StringVar(&identity, "identity", "", "Seed the selection from this record identity")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if selection != "" && identity != "" {
		_, _ = fmt.Fprintln(stderr, "--select and --identity are mutually exclusive")
		return 2
	}

	c, _, err := sf.load(ctx, identity)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load: %v\n", err)
		return 1
	}
	if err := applySelection(c, selection); err != nil {
		_, _ = fmt.Fprintf(stderr, "select: %v\n", err)
		return 1
	}

	res := resolveResult{Selection: c.State().Selection, Output: c.Output()}
	if v := c.Published(); !v.IsZero() {
		res.Lookup = &v
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		_, _ = fmt.Fprintf(stderr, "encode: %v\n", err)
		return 1
	}
	return 0
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
