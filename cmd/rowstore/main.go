package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/pflag"

	"github.com/tuannm99/rowstore"
	"github.com/tuannm99/rowstore/internal"
	"github.com/tuannm99/rowstore/internal/alias/util"
	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/heap"
)

const usage = `usage: rowstore [flags] <command> [args]

commands:
  exec SQL           run one CREATE TABLE, DROP TABLE or INSERT statement
  scan TABLE         print the rows of a table
  inspect TABLE      print header and allocator state of a table
  load TABLE         insert rows concurrently and report throughput
  tables             list tables

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "rowstore:", err)
		os.Exit(1)
	}
}

type cmdOptions struct {
	workers int
	rows    int
	limit   int
	block   int64
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("rowstore", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	cfgPath := fs.StringP("config", "c", "", "YAML config file")
	fs.StringP("data-dir", "d", "./data", "database directory")
	fs.Int("block-cache", 1024, "buffer pool size in blocks")
	fs.Bool("direct-io", false, "open segment files with O_DIRECT")
	fs.Bool("inline-sweep", false, "run the free-row sweep on inserting goroutines")
	fs.String("log-level", "warn", "debug, info, warn or error")

	var opts cmdOptions
	fs.IntVarP(&opts.workers, "workers", "w", 8, "load: concurrent writers")
	fs.IntVarP(&opts.rows, "rows", "n", 10000, "load: total rows")
	fs.IntVar(&opts.limit, "limit", 0, "scan: max rows, 0 for all")
	fs.Int64Var(&opts.block, "block", -1, "inspect: also dump the row block with this id")

	if err := fs.Parse(args); err != nil {
		return err
	}

	v := internal.NewViper()
	for key, flag := range map[string]string{
		"storage.data_dir":    "data-dir",
		"storage.block_cache": "block-cache",
		"storage.direct_io":   "direct-io",
		"table.inline_sweep":  "inline-sweep",
		"logging.level":       "log-level",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return err
		}
	}
	if *cfgPath != "" {
		v.SetConfigFile(*cfgPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	cfg, err := internal.FromViper(v)
	if err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	db, err := rowstore.Open(cfg, stderr)
	if err != nil {
		return err
	}
	defer util.CloseQuietly(db, "database")

	cmd, cargs := rest[0], rest[1:]
	switch cmd {
	case "tables":
		return listTables(db, stdout)
	case "exec":
		if len(cargs) == 0 {
			return errors.New("exec: missing SQL")
		}
		return execSQL(ctx, db, strings.Join(cargs, " "), stdout)
	}

	if len(cargs) != 1 {
		return fmt.Errorf("%s: expected one table name", cmd)
	}
	switch cmd {
	case "scan":
		return scan(ctx, db, cargs[0], opts.limit, stdout)
	case "inspect":
		return inspect(ctx, db, cargs[0], opts.block, stdout)
	case "load":
		return load(ctx, db, cargs[0], opts, stdout)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func listTables(db *rowstore.DB, w io.Writer) error {
	names, err := db.ListTables()
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
	return nil
}

func execSQL(ctx context.Context, db *rowstore.DB, sql string, w io.Writer) error {
	res, err := db.Exec(ctx, sql, nil)
	if err != nil {
		return err
	}
	if res.LastAddress != 0 {
		fmt.Fprintf(w, "%d row(s) affected, address %d\n", res.AffectedRows, res.LastAddress)
		return nil
	}
	fmt.Fprintln(w, "OK")
	return nil
}

func scan(ctx context.Context, db *rowstore.DB, table string, limit int, w io.Writer) error {
	res, err := db.Scan(ctx, table, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "(%d rows)\n", len(res.Rows))
	return nil
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		if len(v) > 16 {
			return fmt.Sprintf("%x... (%d bytes)", v[:16], len(v))
		}
		return fmt.Sprintf("%x", v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

func inspect(ctx context.Context, db *rowstore.DB, table string, block int64, w io.Writer) error {
	t, err := db.OpenTable(ctx, table)
	if err != nil {
		return err
	}
	h, err := heap.ReadHeader(t.Store())
	if err != nil {
		return err
	}
	st := t.AllocatorStats()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "table\t%s\n", t.Name())
	fmt.Fprintf(tw, "version\t%s\n", h.Version)
	fmt.Fprintf(tw, "ddl\t%s\n", h.DDL)
	fmt.Fprintf(tw, "index roots\t%v\n", h.IndexRoots)
	fmt.Fprintf(tw, "row length\t%d\n", t.RowLength())
	fmt.Fprintf(tw, "rows per block\t%d\n", t.RowsPerBlock())
	fmt.Fprintf(tw, "rows\t%d\n", t.RowCount())
	fmt.Fprintf(tw, "blocks\t%d\n", t.Store().BlockCount())
	fmt.Fprintf(tw, "free ring\t%d\n", st.FreeRing)
	fmt.Fprintf(tw, "tail\t%d / %d\n", st.TailOffset, st.TailTop)
	fmt.Fprintf(tw, "clock\t%d / %d\n", st.ClockOffset, st.ClockTop)
	fmt.Fprintf(tw, "sweeps\t%d\n", st.Sweeps)
	for _, c := range t.Columns() {
		if idx := c.Index(); idx != nil {
			fmt.Fprintf(tw, "index %s\troot %d, %d keys\n", c.Name(), idx.Root(), idx.Len())
		}
	}
	for _, c := range t.Constraints() {
		fmt.Fprintf(tw, "constraint\t%s\n", c)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if block < 0 {
		return nil
	}
	fmt.Fprintln(w)
	return t.DebugBlock(w, uint64(block), false)
}

const loadDDL = "CREATE TABLE %s (id IDENTITY, name VARCHAR(32) UNIQUE NOT NULL, n INTEGER, at TIMESTAMP DEFAULT (now))"

func load(ctx context.Context, db *rowstore.DB, table string, opts cmdOptions, w io.Writer) error {
	if opts.workers < 1 || opts.rows < 1 {
		return errors.New("load: workers and rows must be positive")
	}
	if _, err := db.OpenTable(ctx, table); errors.Is(err, rowstore.ErrTableNotFound) {
		if _, err := db.Exec(ctx, fmt.Sprintf(loadDDL, table), nil); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	// unique names across repeated runs
	runID := time.Now().UnixNano()
	var next, inserted, retries atomic.Int64

	start := time.Now()
	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(opts.workers)
	for range opts.workers {
		p.Go(func(ctx context.Context) error {
			for {
				i := next.Add(1)
				if i > int64(opts.rows) {
					return nil
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				_, err := db.Insert(ctx, table, map[string]any{
					"name": fmt.Sprintf("r%x-%d", runID, i),
					"n":    i,
				})
				switch {
				case err == nil:
					inserted.Add(1)
				case dberr.IsRetryable(err):
					retries.Add(1)
				default:
					return err
				}
			}
		})
	}
	err := p.Wait()
	elapsed := time.Since(start)

	fmt.Fprintf(w, "inserted %d rows in %s (%.0f rows/s), %d lock timeouts\n",
		inserted.Load(), elapsed.Round(time.Millisecond),
		float64(inserted.Load())/elapsed.Seconds(), retries.Load())
	if err != nil {
		return err
	}
	return db.Flush()
}
