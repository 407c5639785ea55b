// Package main is the entry point for the recdb command.
//
// recdb loads a data file described by a YAML schema manifest into an
// in-memory record table, validates it, optionally filters it with a YAML
// query manifest, prints the result as CSV and exports or saves it.
// Configuration is read from CLI flags and RECDB_* environment variables.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/lmittmann/tint"
	"github.com/maruel/recdb/internal/csvio"
	"github.com/maruel/recdb/internal/dataset"
	"github.com/maruel/recdb/internal/dynrow"
	"github.com/maruel/recdb/internal/history"
	"github.com/maruel/recdb/internal/manifest"
	"github.com/maruel/recdb/internal/schema"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "recdb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	schemaPath := flag.String("schema", "", "Schema manifest (YAML) describing the entity")
	in := flag.String("in", "", "Data file to load (.csv, .tsv, .jsonl, .bin, .db)")
	format := flag.String("format", "", "Format of -in when its extension is ambiguous (csv, jsonl, bin, sqlite)")
	delimiter := flag.String("delimiter", "", "CSV delimiter, overrides the manifest; \\t for tab")
	queryPath := flag.String("query", "", "Query manifest (YAML) filtering the printed records")
	out := flag.String("out", "", "Export the loaded records to this file")
	save := flag.Bool("save", false, "Write the records back to -in")
	watch := flag.Bool("watch", false, "Reload and print again every time -in changes")
	historyDir := flag.String("history", "", "Git repository recording every saved file")
	printSchema := flag.Bool("print-schema", false, "Print the entity JSON Schema and exit")
	skipValidation := flag.Bool("skip-validation", false, "Load rows without constraint checks")
	add := flag.String("add", "", "Append one record, given as a CSV line in field order")
	dryRun := flag.Bool("dry-run", false, "With -add, only report whether the record would be accepted")
	revisions := flag.Int("revisions", 0, "Print up to this many recorded versions of -in and exit; needs -history")
	restore := flag.String("restore", "", "Restore -in to this recorded revision (or HEAD); needs -history")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	if *version {
		printVersion()
		return nil
	}

	// Environment only fills flags not given explicitly.
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	for name, p := range map[string]*string{"log-level": logLevel, "format": format, "history": historyDir} {
		if set[name] {
			continue
		}
		if v := os.Getenv(envName(name)); v != "" {
			*p = v
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			val := a.Value.Any()
			skip := false
			switch t := val.(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case int64:
				skip = t == 0
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	switch *logLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", *logLevel)
	}

	if *schemaPath == "" {
		return errors.New("-schema is required")
	}
	m, err := manifest.ParseSchema(*schemaPath)
	if err != nil {
		return err
	}
	reg, err := dynrow.Registry(m)
	if err != nil {
		return err
	}
	if *printSchema {
		return writeSchema(os.Stdout, reg)
	}
	if *in == "" {
		return errors.New("-in is required")
	}

	opts := dataset.Options{
		Delimiter:      m.Comma(),
		SkipValidation: *skipValidation || !m.CheckOnLoad(),
		Logger:         logger,
	}
	if *format != "" {
		if opts.Format, err = dataset.ParseFormat(*format); err != nil {
			return err
		}
	}
	if *delimiter != "" {
		if opts.Delimiter, err = parseDelimiter(*delimiter); err != nil {
			return err
		}
	}
	if *historyDir != "" {
		if opts.History, err = history.Open(*historyDir, "recdb", "recdb@localhost"); err != nil {
			return err
		}
	}
	var q *manifest.Query
	if *queryPath != "" {
		if q, err = manifest.ParseQuery(*queryPath); err != nil {
			return err
		}
	}

	d, err := dataset.New(reg, *in, opts)
	if err != nil {
		return err
	}
	if *revisions > 0 {
		return printRevisions(ctx, os.Stdout, d, *revisions)
	}
	if *restore != "" {
		if err := d.Restore(ctx, *restore); err != nil {
			return err
		}
	} else if err := d.Load(ctx); err != nil {
		return err
	}
	if *add != "" {
		rec, err := parseRecord(reg, *add)
		if err != nil {
			return err
		}
		if *dryRun {
			return check(os.Stdout, d, rec)
		}
		if err := d.Add(ctx, rec); err != nil {
			return err
		}
	}
	if err := run(ctx, d, q, *out, *save); err != nil {
		return err
	}
	if !*watch {
		return recorded(d)
	}
	err = d.Watch(ctx, func(err error) {
		if err != nil {
			slog.ErrorContext(ctx, "reload failed", "err", err)
			return
		}
		// Saving here would trigger another reload.
		if err := run(ctx, d, q, *out, false); err != nil {
			slog.ErrorContext(ctx, "run failed", "err", err)
		}
	})
	if err != nil {
		return err
	}
	return ctx.Err()
}

// run prints the records selected by q, then exports and saves them.
func run(ctx context.Context, d *dataset.Dataset[dynrow.Row], q *manifest.Query, out string, save bool) error {
	rows := d.Table().Rows()
	if q != nil {
		var err error
		if rows, err = manifest.Run(q, d.Table().Query()); err != nil {
			return err
		}
	}
	if err := csvio.Write(os.Stdout, d.Table().Registry(), rows, d.Columns()); err != nil {
		return err
	}
	if out != "" {
		if err := d.ExportTo(ctx, out); err != nil {
			return err
		}
	}
	if save {
		return d.Save(ctx)
	}
	return nil
}

// recorded summarizes the error log as the command result.
func recorded(d *dataset.Dataset[dynrow.Row]) error {
	n := d.Log().Len()
	if n == 0 {
		return nil
	}
	for _, msg := range d.Log().Messages() {
		fmt.Fprintf(os.Stderr, "  %s\n", msg)
	}
	return fmt.Errorf("%d errors recorded", n)
}

// parseRecord decodes line as one CSV row listing every field in order.
func parseRecord(reg *schema.Registry[dynrow.Row], line string) (dynrow.Row, error) {
	var buf bytes.Buffer
	if err := csvio.Write(&buf, reg, nil, nil); err != nil {
		return dynrow.Row{}, err
	}
	buf.WriteString(line)
	buf.WriteByte('\n')
	entries, _, err := csvio.Read(&buf, reg)
	if err != nil {
		return dynrow.Row{}, err
	}
	if len(entries) != 1 {
		return dynrow.Row{}, fmt.Errorf("expected one record, got %d", len(entries))
	}
	return entries[0].Record, nil
}

// check reports whether rec would be accepted, without changing anything.
func check(w io.Writer, d *dataset.Dataset[dynrow.Row], rec dynrow.Row) error {
	res := d.Table().Check(rec)
	if res.OK() {
		_, err := fmt.Fprintln(w, "ok")
		return err
	}
	for _, e := range res.Errors {
		if _, err := fmt.Fprintln(w, e.Error()); err != nil {
			return err
		}
	}
	return fmt.Errorf("record rejected with %d errors", len(res.Errors))
}

func printRevisions(ctx context.Context, w io.Writer, d *dataset.Dataset[dynrow.Row], n int) error {
	revs, err := d.Revisions(ctx, n)
	if err != nil {
		return err
	}
	for _, c := range revs {
		if _, err := fmt.Fprintf(w, "%.12s %s %s\n", c.Hash, c.When.Format(time.DateTime), c.Message); err != nil {
			return err
		}
	}
	return nil
}

func writeSchema(w io.Writer, reg *schema.Registry[dynrow.Row]) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reg.JSONSchema())
}

func parseDelimiter(s string) (rune, error) {
	if s == `\t` {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || size != len(s) {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	return r, nil
}

// envName returns the environment variable overriding flag name.
func envName(name string) string {
	return "RECDB_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("recdb %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
